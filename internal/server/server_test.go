package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/omni-inbox/internal/audio"
	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/quickreply"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/gateway"
	pkgmdw "github.com/nguyentranbao-ct/omni-inbox/internal/server/middleware"
	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	"github.com/nguyentranbao-ct/omni-inbox/internal/usecase"
)

const testSecret = "test-secret"

type stubComposer struct {
	mu         sync.Mutex
	texts      []usecase.SendTextParams
	reactions  [][3]string
	removed    [][2]string
	hidden     []string
	attachment *usecase.AttachmentParams
	audio      *audio.EncodedAudio

	textErr   error
	quickMsgs []models.Message
	quickErr  error
	deleteErr error
}

func (s *stubComposer) SendText(_ context.Context, p usecase.SendTextParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, p)
	if s.textErr != nil {
		return nil, s.textErr
	}
	return &models.Message{ID: "m-new", ConversationID: p.ConversationID, MessageType: models.MessageTypeText, Content: p.Text}, nil
}

func (s *stubComposer) SendReaction(_ context.Context, phone, target, emoji string) (*gateway.Ack, error) {
	s.reactions = append(s.reactions, [3]string{phone, target, emoji})
	return &gateway.Ack{MessageID: "r1"}, nil
}

func (s *stubComposer) RemoveReaction(_ context.Context, phone, target string) (*gateway.Ack, error) {
	s.removed = append(s.removed, [2]string{phone, target})
	return &gateway.Ack{MessageID: "r2"}, nil
}

func (s *stubComposer) SendQuickReply(context.Context, string, models.QuickReply, usecase.Author) ([]models.Message, error) {
	return s.quickMsgs, s.quickErr
}

func (s *stubComposer) SendAttachmentWithCaption(_ context.Context, p usecase.AttachmentParams) (*models.Message, error) {
	s.attachment = &p
	return &models.Message{ID: "m-att", ConversationID: p.ConversationID, MessageType: p.Kind.MessageType(), Content: "https://cdn/x"}, nil
}

func (s *stubComposer) SendAudio(_ context.Context, convID string, rec *audio.EncodedAudio, _ usecase.Author) (*models.Message, error) {
	s.audio = rec
	return &models.Message{ID: "m-audio", ConversationID: convID, MessageType: models.MessageTypeAudio}, nil
}

func (s *stubComposer) SendLink(_ context.Context, convID, link, text string, _ usecase.Author) (*models.Message, error) {
	return &models.Message{ID: "m-link", ConversationID: convID, MessageType: models.MessageTypeText, Content: text + " " + link}, nil
}

func (s *stubComposer) HideMessage(_ context.Context, _, msgID string) error {
	s.hidden = append(s.hidden, msgID)
	return nil
}

func (s *stubComposer) DeleteForEveryone(context.Context, string, string) error {
	return s.deleteErr
}

type stubInbox struct {
	st     *store.Store
	opened []string
}

func (i *stubInbox) Open(ctx context.Context, id string) (store.View, error) {
	return i.Switch(ctx, id)
}

func (i *stubInbox) Switch(_ context.Context, id string) (store.View, error) {
	i.opened = append(i.opened, id)
	v, ok := i.st.View(id)
	if !ok {
		return store.View{}, models.ErrNotFound
	}
	return v, nil
}

func (i *stubInbox) Refetch(context.Context, []string) error { return nil }

func (i *stubInbox) MarkAsRead(_ context.Context, id string) bool { return i.st.MarkAsRead(id) }

func (i *stubInbox) Active() string { return "" }

func (i *stubInbox) Close(context.Context) error { return nil }

type stubQuickReplies struct {
	items []models.QuickReply
}

func (q *stubQuickReplies) Search(_ context.Context, term string) ([]models.QuickReply, error) {
	return quickreply.Filter(q.items, term), nil
}

func (q *stubQuickReplies) Get(_ context.Context, id string) (models.QuickReply, error) {
	for _, it := range q.items {
		if it.ID == id {
			return it, nil
		}
	}
	return models.QuickReply{}, models.ErrNotFound
}

type stubGateway struct {
	gateway.Adapter
}

func (stubGateway) FetchAudio(_ context.Context, id string) (*gateway.PlayableRef, error) {
	if id == "missing" {
		return nil, &models.TransferError{Kind: models.TransferTimeout, Op: "fetch_audio"}
	}
	return &gateway.PlayableRef{URL: "https://cdn/" + id + ".ogg"}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []bool
}

func (r *recordingEmitter) SendTyping(_ string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typing)
}

type testServer struct {
	e        *echo.Echo
	store    *store.Store
	composer *stubComposer
	emitter  *recordingEmitter
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.New(store.Options{})
	st.UpsertConversation(models.Conversation{ID: "c1", ContactPhone: "5511999990000", UnreadCount: 2})
	st.MergePage("c1", []models.Message{
		{ID: "m1", ConversationID: "c1", IsFromContact: true, MessageType: models.MessageTypeText, Content: "Oi",
			Metadata: models.Metadata{MessageID: "wamid-1", ZaapID: "zaap-1"}},
		{ID: "m2", ConversationID: "c1", MessageType: models.MessageTypeLocation, Content: "",
			Metadata: models.Metadata{Payload: models.LocationPayload{Latitude: -23.5, Longitude: -46.6}}},
	})

	emitter := &recordingEmitter{}
	typing := usecase.NewTyping(emitter, 0)
	composer := &stubComposer{}
	qrs := &stubQuickReplies{items: []models.QuickReply{
		{ID: "qr1", Title: "Saudacao", Type: models.MessageTypeText, Content: "Olá"},
		{ID: "qr2", Title: "Catalogo", Type: models.MessageTypeImage, FileURL: "https://cdn/cat.png", AdditionalText: "Confira"},
	}}
	handler := NewHandler(composer, &stubInbox{st: st}, qrs, typing, st, stubGateway{})

	conf := &config.Config{}
	conf.Auth.JWTSecret = testSecret
	token, err := pkgmdw.SignToken(testSecret, pkgmdw.Claims{
		Name:             "Ana",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "agent-1"},
	})
	require.NoError(t, err)

	return &testServer{
		e:        NewEcho(conf, handler, NewStreamHandler(st, typing)),
		store:    st,
		composer: composer,
		emitter:  emitter,
		token:    token,
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", gjson.Get(rec.Body.String(), "status").String())
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c1", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetConversationRendersMessages(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/conversations/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, gjson.Get(body, "success").Bool())
	assert.Equal(t, "c1", gjson.Get(body, "data.conversation.id").String())
	assert.Equal(t, "text", gjson.Get(body, "data.messages.0.render.kind").String())
	assert.False(t, gjson.Get(body, "data.messages.0.render.outbound").Bool())
	assert.Equal(t, "location", gjson.Get(body, "data.messages.1.render.kind").String())
	assert.Equal(t, -23.5, gjson.Get(body, "data.messages.1.render.location.Latitude").Float())
	assert.True(t, gjson.Get(body, "data.pending").IsArray())
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/conversations/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", gjson.Get(rec.Body.String(), "error_code").String())
}

func TestOpenAndMarkAsRead(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/conversations/c1/open", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/conversations/c1/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "data.changed").Bool())

	rec = s.do(http.MethodPost, "/api/v1/conversations/c1/read", "")
	assert.False(t, gjson.Get(rec.Body.String(), "data.changed").Bool())
}

func TestSendMessageUsesTokenAuthorAndStopsTyping(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/conversations/c1/typing", `{"typing":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/conversations/c1/messages", `{"text":"Olá","isInternalNote":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Olá", gjson.Get(rec.Body.String(), "data.message.content").String())
	assert.Equal(t, "text", gjson.Get(rec.Body.String(), "data.render.kind").String())

	require.Len(t, s.composer.texts, 1)
	sent := s.composer.texts[0]
	assert.Equal(t, "c1", sent.ConversationID)
	assert.True(t, sent.IsInternalNote)
	assert.Equal(t, usecase.Author{ID: "agent-1", Name: "Ana"}, sent.Author)
	assert.Equal(t, []bool{true, false}, s.emitter.events)
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/conversations/c1/messages", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.composer.texts)
}

func TestErrorTaxonomyStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"precondition", models.NewPreconditionError("send_text", "message is empty"), http.StatusUnprocessableEntity, "precondition_failed"},
		{"timeout", &models.TransferError{Kind: models.TransferTimeout, Op: "create_message"}, http.StatusGatewayTimeout, "timeout"},
		{"network", &models.TransferError{Kind: models.TransferNetworkFailure, Op: "create_message"}, http.StatusServiceUnavailable, "network_failure"},
		{"rejected", &models.TransferError{Kind: models.TransferServerRejected, Op: "create_message", Status: 400, Detail: "bad"}, http.StatusBadGateway, "server_rejected"},
		{"unacceptable", &models.TransferError{Kind: models.TransferUnacceptable, Op: "upload_image"}, http.StatusUnprocessableEntity, "unacceptable"},
		{"invalid state", models.ErrInvalidState, http.StatusConflict, "invalid_state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.composer.textErr = tt.err
			rec := s.do(http.MethodPost, "/api/v1/conversations/c1/messages", `{"text":"hi"}`)
			assert.Equal(t, tt.code, rec.Code)
			body := rec.Body.String()
			assert.Equal(t, tt.kind, gjson.Get(body, "error_code").String())
			assert.Equal(t, models.UserMessage(tt.err), gjson.Get(body, "error_message").String())
		})
	}
}

func TestQuickReplyPartialFailureKeepsDeliveredPart(t *testing.T) {
	s := newTestServer(t)
	s.composer.quickMsgs = []models.Message{{ID: "m-img", ConversationID: "c1", MessageType: models.MessageTypeImage, Content: "https://cdn/cat.png"}}
	s.composer.quickErr = &models.SendError{Step: models.SendStepSecondary, Partial: true, Err: &models.TransferError{Kind: models.TransferTimeout}}

	rec := s.do(http.MethodPost, "/api/v1/conversations/c1/quick-replies", `{"quickReplyId":"qr2"}`)
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "partial_send", gjson.Get(body, "error_code").String())
	assert.Equal(t, "secondary", gjson.Get(body, "error_data.failed_step").String())
	assert.Equal(t, "m-img", gjson.Get(body, "data.0.message.id").String())
}

func TestQuickReplyUnknownID(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/conversations/c1/quick-replies", `{"quickReplyId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchQuickReplies(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/quick-replies?input=%2Fcat&cursor=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, gjson.Get(body, "data.matched").Bool())
	assert.Equal(t, "cat", gjson.Get(body, "data.term").String())
	assert.Equal(t, "qr2", gjson.Get(body, "data.items.0.id").String())

	rec = s.do(http.MethodGet, "/api/v1/quick-replies?input=http%3A%2F%2Fx", "")
	body = rec.Body.String()
	assert.False(t, gjson.Get(body, "data.matched").Bool())
	assert.Equal(t, int64(0), gjson.Get(body, "data.items.#").Int())
}

func TestReactionResolvesGatewayTarget(t *testing.T) {
	s := newTestServer(t)
	msg, err := s.store.Message("c1", "m1")
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/api/v1/conversations/c1/messages/m1/reactions", `{"emoji":"👍"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.composer.reactions, 1)
	assert.Equal(t, [3]string{"5511999990000", msg.GatewayMessageID(), "👍"}, s.composer.reactions[0])

	rec = s.do(http.MethodDelete, "/api/v1/conversations/c1/messages/m1/reactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"5511999990000", msg.GatewayMessageID()}, s.composer.removed[0])

	rec = s.do(http.MethodPost, "/api/v1/conversations/c1/messages/m2/reactions", `{"emoji":"👍"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHideAndDelete(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPatch, "/api/v1/conversations/c1/messages/m1/hide", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"m1"}, s.composer.hidden)

	s.composer.deleteErr = &models.SendError{Step: models.SendStepSecondary, Partial: true, Err: &models.TransferError{Kind: models.TransferNetworkFailure}}
	rec = s.do(http.MethodDelete, "/api/v1/conversations/c1/messages/m2", "")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Equal(t, "m2", gjson.Get(rec.Body.String(), "data.message.id").String())

	s.composer.deleteErr = models.NewPreconditionError("delete_for_everyone", "delete window has passed")
	rec = s.do(http.MethodDelete, "/api/v1/conversations/c1/messages/m2", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFetchAudio(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/messages/wamid-9/audio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cdn/wamid-9.ogg", gjson.Get(rec.Body.String(), "data.audioUrl").String())

	rec = s.do(http.MethodGet, "/api/v1/messages/missing/audio", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile(fileField, fileName)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestSendAttachment(t *testing.T) {
	s := newTestServer(t)
	body, contentType := multipartBody(t, map[string]string{"kind": "image", "caption": "Confira"}, "file", "cat.png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c1/attachments", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.composer.attachment)
	assert.Equal(t, gateway.KindImage, s.composer.attachment.Kind)
	assert.Equal(t, "Confira", s.composer.attachment.Caption)
	assert.Equal(t, "cat.png", s.composer.attachment.FileName)
	assert.Equal(t, []byte("png"), s.composer.attachment.File)
	assert.Equal(t, "agent-1", s.composer.attachment.Author.ID)
	assert.Equal(t, "image", gjson.Get(rec.Body.String(), "data.render.kind").String())
}

func TestSendAttachmentRejectsUnknownKind(t *testing.T) {
	s := newTestServer(t)
	body, contentType := multipartBody(t, map[string]string{"kind": "sticker"}, "file", "x.webp", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c1/attachments", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, s.composer.attachment)
}

func TestSendAudio(t *testing.T) {
	s := newTestServer(t)
	body, contentType := multipartBody(t, map[string]string{"duration": "12"}, "audio", "rec.webm", []byte("opus"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c1/audio", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.composer.audio)
	assert.Equal(t, 12, s.composer.audio.Duration)
	assert.Equal(t, audio.DefaultMimeType, s.composer.audio.MimeType)
	assert.Equal(t, []byte("opus"), s.composer.audio.Data)
}

func TestSendAudioDurationClamped(t *testing.T) {
	for _, tt := range []struct {
		duration string
		want     int
	}{
		{"-5", 0},
		{"301", audio.DefaultMaxDuration},
		{"nope", 0},
	} {
		t.Run(tt.duration, func(t *testing.T) {
			s := newTestServer(t)
			body, contentType := multipartBody(t, map[string]string{"duration": tt.duration}, "audio", "rec.webm", []byte("opus"))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c1/audio", body)
			req.Header.Set(echo.HeaderContentType, contentType)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
			rec := httptest.NewRecorder()
			s.e.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			require.NotNil(t, s.composer.audio)
			assert.Equal(t, tt.want, s.composer.audio.Duration)
		})
	}
}
