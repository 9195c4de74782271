package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/nguyentranbao-ct/omni-inbox/internal/audio"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/quickreply"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/gateway"
	pkgmdw "github.com/nguyentranbao-ct/omni-inbox/internal/server/middleware"
	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	"github.com/nguyentranbao-ct/omni-inbox/internal/usecase"
)

type conversationRequest struct {
	ConversationID string `param:"id" validate:"required"`
}

type messageRequest struct {
	ConversationID string `param:"id" validate:"required"`
	MessageID      string `param:"msgID" validate:"required"`
}

type sendMessageRequest struct {
	ConversationID string `param:"id" validate:"required"`
	Text           string `json:"text" validate:"required,notblank"`
	IsInternalNote bool   `json:"isInternalNote"`
	UserID         string `jwt:"sub"`
	UserName       string `jwt:"name"`
}

type sendLinkRequest struct {
	ConversationID string `param:"id" validate:"required"`
	URL            string `json:"url" validate:"required,http_url"`
	Text           string `json:"text"`
	UserID         string `jwt:"sub"`
	UserName       string `jwt:"name"`
}

type sendQuickReplyRequest struct {
	ConversationID string `param:"id" validate:"required"`
	QuickReplyID   string `json:"quickReplyId" validate:"required"`
	UserID         string `jwt:"sub"`
	UserName       string `jwt:"name"`
}

type searchQuickRepliesRequest struct {
	Term   string `query:"q"`
	Input  string `query:"input"`
	Cursor string `query:"cursor"`
}

type typingRequest struct {
	ConversationID string `param:"id" validate:"required"`
	Typing         bool   `json:"typing"`
}

type reactionRequest struct {
	ConversationID string `param:"id" validate:"required"`
	MessageID      string `param:"msgID" validate:"required"`
	Emoji          string `json:"emoji"`
}

type audioRequest struct {
	MessageID string `param:"id" validate:"required"`
}

type readResponse struct {
	Changed bool `json:"changed"`
}

type quickReplySearchResponse struct {
	Term    string              `json:"term"`
	Matched bool                `json:"matched"`
	Items   []models.QuickReply `json:"items"`
}

type Controller interface {
	Health(c echo.Context) error
	GetConversation(c echo.Context, req conversationRequest) (*viewResponse, error)
	OpenConversation(c echo.Context, req conversationRequest) (*viewResponse, error)
	MarkAsRead(c echo.Context, req conversationRequest) (*readResponse, error)
	SendMessage(c echo.Context, req sendMessageRequest) (*messageResponse, error)
	SendLink(c echo.Context, req sendLinkRequest) (*messageResponse, error)
	SendQuickReply(c echo.Context, req sendQuickReplyRequest) (any, error)
	SearchQuickReplies(c echo.Context, req searchQuickRepliesRequest) (*quickReplySearchResponse, error)
	Typing(c echo.Context, req typingRequest) error
	SendReaction(c echo.Context, req reactionRequest) (*gateway.Ack, error)
	RemoveReaction(c echo.Context, req reactionRequest) (*gateway.Ack, error)
	HideMessage(c echo.Context, req messageRequest) error
	DeleteMessage(c echo.Context, req messageRequest) (any, error)
	FetchAudio(c echo.Context, req audioRequest) (*gateway.PlayableRef, error)
	SendAttachment(c echo.Context) error
	SendAudio(c echo.Context) error
}

type controller struct {
	composer     usecase.Composer
	inbox        usecase.Inbox
	quickReplies usecase.QuickReplies
	typing       *usecase.Typing
	store        *store.Store
	gateway      gateway.Adapter
}

func NewHandler(
	composer usecase.Composer,
	inbox usecase.Inbox,
	quickReplies usecase.QuickReplies,
	typing *usecase.Typing,
	st *store.Store,
	gw gateway.Adapter,
) Controller {
	return &controller{
		composer:     composer,
		inbox:        inbox,
		quickReplies: quickReplies,
		typing:       typing,
		store:        st,
		gateway:      gw,
	}
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "omni-inbox",
	})
}

func (h *controller) GetConversation(c echo.Context, req conversationRequest) (*viewResponse, error) {
	view, ok := h.store.View(req.ConversationID)
	if !ok {
		return nil, models.ErrNotFound
	}
	return toView(view), nil
}

func (h *controller) OpenConversation(c echo.Context, req conversationRequest) (*viewResponse, error) {
	view, err := h.inbox.Switch(c.Request().Context(), req.ConversationID)
	if err != nil {
		return nil, err
	}
	return toView(view), nil
}

func (h *controller) MarkAsRead(c echo.Context, req conversationRequest) (*readResponse, error) {
	changed := h.inbox.MarkAsRead(c.Request().Context(), req.ConversationID)
	return &readResponse{Changed: changed}, nil
}

func (h *controller) SendMessage(c echo.Context, req sendMessageRequest) (*messageResponse, error) {
	h.typing.Stop()
	msg, err := h.composer.SendText(c.Request().Context(), usecase.SendTextParams{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		IsInternalNote: req.IsInternalNote,
		Author:         usecase.Author{ID: req.UserID, Name: req.UserName},
	})
	if err != nil {
		return nil, err
	}
	resp := toMessage(*msg)
	return &resp, nil
}

func (h *controller) SendLink(c echo.Context, req sendLinkRequest) (*messageResponse, error) {
	h.typing.Stop()
	author := usecase.Author{ID: req.UserID, Name: req.UserName}
	msg, err := h.composer.SendLink(c.Request().Context(), req.ConversationID, req.URL, req.Text, author)
	if err != nil {
		return nil, err
	}
	resp := toMessage(*msg)
	return &resp, nil
}

// SendQuickReply answers 207 with the delivered messages when only the
// follow-up text failed.
func (h *controller) SendQuickReply(c echo.Context, req sendQuickReplyRequest) (any, error) {
	ctx := c.Request().Context()
	qr, err := h.quickReplies.Get(ctx, req.QuickReplyID)
	if err != nil {
		return nil, err
	}
	h.typing.Stop()
	author := usecase.Author{ID: req.UserID, Name: req.UserName}
	msgs, err := h.composer.SendQuickReply(ctx, req.ConversationID, qr, author)
	if err != nil {
		return partialOr(err, toMessages(msgs))
	}
	return toMessages(msgs), nil
}

func (h *controller) SearchQuickReplies(c echo.Context, req searchQuickRepliesRequest) (*quickReplySearchResponse, error) {
	term, matched := req.Term, true
	if req.Input != "" || req.Cursor != "" {
		cursor := len(req.Input)
		if req.Cursor != "" {
			cursor = cast.ToInt(req.Cursor)
		}
		var q quickreply.Query
		q, matched = quickreply.Detect(req.Input, cursor)
		term = q.Term
	}
	resp := &quickReplySearchResponse{Term: term, Matched: matched, Items: []models.QuickReply{}}
	if !matched {
		return resp, nil
	}
	items, err := h.quickReplies.Search(c.Request().Context(), term)
	if err != nil {
		return nil, err
	}
	if items != nil {
		resp.Items = items
	}
	return resp, nil
}

func (h *controller) Typing(c echo.Context, req typingRequest) error {
	if req.Typing {
		h.typing.Keystroke(req.ConversationID)
	} else {
		h.typing.Stop()
	}
	return nil
}

// reactionTarget resolves the contact phone and the gateway id of the message
// being reacted to.
func (h *controller) reactionTarget(req reactionRequest) (string, string, error) {
	conv, ok := h.store.Conversation(req.ConversationID)
	if !ok {
		return "", "", models.ErrNotFound
	}
	msg, err := h.store.Message(req.ConversationID, req.MessageID)
	if err != nil {
		return "", "", err
	}
	target := msg.GatewayMessageID()
	if target == "" {
		return "", "", models.NewPreconditionError("reaction", "message has no gateway id")
	}
	return conv.ContactPhone, target, nil
}

func (h *controller) SendReaction(c echo.Context, req reactionRequest) (*gateway.Ack, error) {
	phone, target, err := h.reactionTarget(req)
	if err != nil {
		return nil, err
	}
	return h.composer.SendReaction(c.Request().Context(), phone, target, req.Emoji)
}

func (h *controller) RemoveReaction(c echo.Context, req reactionRequest) (*gateway.Ack, error) {
	phone, target, err := h.reactionTarget(req)
	if err != nil {
		return nil, err
	}
	return h.composer.RemoveReaction(c.Request().Context(), phone, target)
}

func (h *controller) HideMessage(c echo.Context, req messageRequest) error {
	return h.composer.HideMessage(c.Request().Context(), req.ConversationID, req.MessageID)
}

func (h *controller) DeleteMessage(c echo.Context, req messageRequest) (any, error) {
	err := h.composer.DeleteForEveryone(c.Request().Context(), req.ConversationID, req.MessageID)
	if err != nil {
		msg, _ := h.store.Message(req.ConversationID, req.MessageID)
		return partialOr(err, toMessage(msg))
	}
	msg, err := h.store.Message(req.ConversationID, req.MessageID)
	if err != nil {
		return nil, err
	}
	return toMessage(msg), nil
}

func (h *controller) FetchAudio(c echo.Context, req audioRequest) (*gateway.PlayableRef, error) {
	return h.gateway.FetchAudio(c.Request().Context(), req.MessageID)
}

func (h *controller) SendAttachment(c echo.Context) error {
	convID := c.Param("id")
	kind := gateway.Kind(c.FormValue("kind"))
	switch kind {
	case gateway.KindImage, gateway.KindVideo, gateway.KindDocument:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be image, video or document")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	data, err := readFormFile(fh)
	if err != nil {
		return err
	}

	h.typing.Stop()
	claims := pkgmdw.GetClaims(c)
	msg, err := h.composer.SendAttachmentWithCaption(c.Request().Context(), usecase.AttachmentParams{
		ConversationID: convID,
		Kind:           kind,
		File:           data,
		FileName:       fh.Filename,
		Caption:        c.FormValue("caption"),
		Author:         authorOf(claims),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pkgmdw.OK(toMessage(*msg)))
}

// SendAudio accepts a finished recording from the agent console.
func (h *controller) SendAudio(c echo.Context) error {
	convID := c.Param("id")
	fh, err := c.FormFile("audio")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio is required")
	}
	data, err := readFormFile(fh)
	if err != nil {
		return err
	}
	mime := fh.Header.Get(echo.HeaderContentType)
	if mime == "" || mime == echo.MIMEOctetStream {
		mime = audio.DefaultMimeType
	}
	rec := &audio.EncodedAudio{
		Data:     data,
		MimeType: mime,
		Duration: min(max(cast.ToInt(c.FormValue("duration")), 0), audio.DefaultMaxDuration),
	}

	h.typing.Stop()
	msg, err := h.composer.SendAudio(c.Request().Context(), convID, rec, authorOf(pkgmdw.GetClaims(c)))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pkgmdw.OK(toMessage(*msg)))
}

func authorOf(claims *pkgmdw.Claims) usecase.Author {
	if claims == nil {
		return usecase.Author{}
	}
	return usecase.Author{ID: claims.Subject, Name: claims.Name}
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot open upload")
	}
	defer f.Close()
	return io.ReadAll(f)
}

// partialOr keeps the delivered part in the body when a send only partly
// failed.
func partialOr(err error, data any) (any, error) {
	var sendErr *models.SendError
	if !errors.As(err, &sendErr) || !sendErr.Partial {
		return nil, err
	}
	return toResponseError(err).WithData(data), nil
}
