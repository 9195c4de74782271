package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/httpx"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

func (k Kind) MessageType() models.MessageType {
	return models.MessageType(k)
}

type UploadRequest struct {
	Kind           Kind
	File           []byte
	FileName       string
	ConversationID string
	ContactPhone   string
	Caption        string
}

// RemoteRef is what the gateway returns for an accepted upload.
type RemoteRef struct {
	URL       string `json:"url"`
	MessageID string `json:"messageId"`
	ZaapID    string `json:"zaapId"`
	MimeType  string `json:"-"`
	Size      int64  `json:"-"`
}

// Ack is the gateway answer to non upload sends.
type Ack struct {
	MessageID string `json:"messageId"`
	ZaapID    string `json:"zaapId"`
}

type PlayableRef struct {
	URL string `json:"audioUrl"`
}

type Adapter interface {
	Upload(ctx context.Context, req UploadRequest) (*RemoteRef, error)
	SendLink(ctx context.Context, phone, link, text string) (*Ack, error)
	SendReaction(ctx context.Context, phone, targetMessageID, emoji string) (*Ack, error)
	RemoveReaction(ctx context.Context, phone, targetMessageID string) (*Ack, error)
	DeleteMessage(ctx context.Context, zapiID string) error
	FetchAudio(ctx context.Context, messageID string) (*PlayableRef, error)
}

type limits struct {
	max     int64
	allowed func(mime string) bool
}

type adapter struct {
	client      *resty.Client
	videoClient *resty.Client
	limits      map[Kind]limits
	log         *zap.SugaredLogger

	flight singleflight.Group
	mu     sync.Mutex
	audio  map[string]audioResult
}

type audioResult struct {
	ref *PlayableRef
	err error
}

var uploadDuration = util.MustHistogramVec("gateway_upload_duration_seconds", "kind", "result")

func NewAdapter(conf *config.Config) Adapter {
	cfg := conf.Gateway
	opts := util.RestyOptions{BaseURL: cfg.BaseURL, Token: cfg.Token, Timeout: cfg.Timeout}
	videoOpts := opts
	videoOpts.Timeout = cfg.VideoTimeout
	return &adapter{
		client:      httpx.NewClient(opts),
		videoClient: httpx.NewClient(videoOpts),
		limits: map[Kind]limits{
			KindImage:    {max: cfg.MaxImageSize, allowed: prefixed("image/")},
			KindVideo:    {max: cfg.MaxVideoSize, allowed: prefixed("video/")},
			KindDocument: {max: cfg.MaxDocSize, allowed: isDocument},
		},
		log:   logger.MustNamed("gateway"),
		audio: make(map[string]audioResult),
	}
}

func prefixed(p string) func(string) bool {
	return func(mime string) bool { return strings.HasPrefix(mime, p) }
}

// documents are anything that is not a playable or viewable media type
func isDocument(mime string) bool {
	return !strings.HasPrefix(mime, "image/") && !strings.HasPrefix(mime, "video/") && !strings.HasPrefix(mime, "audio/")
}

// Accept checks size and sniffed type before anything goes on the wire.
func (a *adapter) Accept(req UploadRequest) (string, error) {
	op := "upload_" + string(req.Kind)
	if req.ContactPhone == "" {
		return "", models.NewPreconditionError(op, "contact phone is missing")
	}
	lim, ok := a.limits[req.Kind]
	if !ok {
		return "", models.NewPreconditionError(op, "unknown attachment kind")
	}
	if len(req.File) == 0 {
		return "", &models.TransferError{Kind: models.TransferUnacceptable, Op: op, Detail: "file is empty"}
	}
	if size := int64(len(req.File)); lim.max > 0 && size > lim.max {
		return "", &models.TransferError{
			Kind:   models.TransferUnacceptable,
			Op:     op,
			Detail: fmt.Sprintf("%s is larger than the %s limit", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(lim.max))),
		}
	}
	mime := mimetype.Detect(req.File)
	base := strings.TrimSpace(strings.SplitN(mime.String(), ";", 2)[0])
	if !lim.allowed(base) {
		return "", &models.TransferError{
			Kind:   models.TransferUnacceptable,
			Op:     op,
			Detail: fmt.Sprintf("%s files cannot be sent as %s", base, req.Kind),
		}
	}
	return base, nil
}

func (a *adapter) Upload(ctx context.Context, req UploadRequest) (*RemoteRef, error) {
	mime, err := a.Accept(req)
	if err != nil {
		return nil, err
	}

	client := a.client
	if req.Kind == KindVideo {
		client = a.videoClient
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = string(req.Kind) + mimetype.Lookup(mime).Extension()
	}

	start := time.Now()
	var ref RemoteRef
	resp, err := client.R().
		SetContext(ctx).
		SetFileReader("file", fileName, bytes.NewReader(req.File)).
		SetFormData(map[string]string{
			"phone":          req.ContactPhone,
			"conversationId": req.ConversationID,
			"caption":        req.Caption,
		}).
		SetResult(&ref).
		Post("/gateway/send-" + string(req.Kind))
	err = httpx.Check("upload_"+string(req.Kind), resp, err)

	result := "ok"
	if err != nil {
		result = "error"
	}
	uploadDuration.WithLabelValues(string(req.Kind), result).Observe(time.Since(start).Seconds())
	if err != nil {
		a.log.Warnw("upload failed", "kind", req.Kind, "size", len(req.File), "error", err)
		return nil, err
	}
	ref.MimeType = mime
	ref.Size = int64(len(req.File))
	return &ref, nil
}

func (a *adapter) SendLink(ctx context.Context, phone, link, text string) (*Ack, error) {
	if phone == "" {
		return nil, models.NewPreconditionError("send_link", "contact phone is missing")
	}
	return a.postJSON(ctx, "send_link", "/gateway/send-link", map[string]string{
		"phone":   phone,
		"linkUrl": link,
		"message": text,
	})
}

func (a *adapter) SendReaction(ctx context.Context, phone, targetMessageID, emoji string) (*Ack, error) {
	if phone == "" {
		return nil, models.NewPreconditionError("send_reaction", "contact phone is missing")
	}
	if targetMessageID == "" {
		return nil, models.NewPreconditionError("send_reaction", "target message has no gateway id")
	}
	return a.postJSON(ctx, "send_reaction", "/gateway/send-reaction", map[string]string{
		"phone":     phone,
		"messageId": targetMessageID,
		"reaction":  emoji,
	})
}

func (a *adapter) RemoveReaction(ctx context.Context, phone, targetMessageID string) (*Ack, error) {
	if phone == "" {
		return nil, models.NewPreconditionError("remove_reaction", "contact phone is missing")
	}
	if targetMessageID == "" {
		return nil, models.NewPreconditionError("remove_reaction", "target message has no gateway id")
	}
	return a.postJSON(ctx, "remove_reaction", "/gateway/remove-reaction", map[string]string{
		"phone":     phone,
		"messageId": targetMessageID,
	})
}

func (a *adapter) postJSON(ctx context.Context, op, path string, body any) (*Ack, error) {
	var ack Ack
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&ack).
		Post(path)
	if err := httpx.Check(op, resp, err); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (a *adapter) DeleteMessage(ctx context.Context, zapiID string) error {
	if zapiID == "" {
		return models.NewPreconditionError("delete_message", "message has no gateway id")
	}
	resp, err := a.client.R().
		SetContext(ctx).
		Delete("/gateway/messages/" + url.PathEscape(zapiID))
	return httpx.Check("delete_message", resp, err)
}

// FetchAudio resolves a playable url for an audio message without inline
// content. Answers, failures included, are remembered for the session and
// concurrent lookups of one id share a single request.
func (a *adapter) FetchAudio(ctx context.Context, messageID string) (*PlayableRef, error) {
	if messageID == "" {
		return nil, models.NewPreconditionError("fetch_audio", "message id is empty")
	}
	a.mu.Lock()
	if r, ok := a.audio[messageID]; ok {
		a.mu.Unlock()
		return r.ref, r.err
	}
	a.mu.Unlock()

	v, err, _ := a.flight.Do(messageID, func() (any, error) {
		ref, err := a.fetchAudio(ctx, messageID)
		if err != nil && ctx.Err() != nil {
			// the caller gave up, nothing was learned about the id
			return nil, err
		}
		a.mu.Lock()
		a.audio[messageID] = audioResult{ref: ref, err: err}
		a.mu.Unlock()
		return ref, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*PlayableRef), nil
}

func (a *adapter) fetchAudio(ctx context.Context, messageID string) (*PlayableRef, error) {
	var ref PlayableRef
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&ref).
		Get("/messages/" + url.PathEscape(messageID) + "/audio")
	if err := httpx.Check("fetch_audio", resp, err); err != nil {
		return nil, err
	}
	if ref.URL == "" {
		return nil, fmt.Errorf("audio of %s: %w", messageID, models.ErrNotFound)
	}
	return &ref, nil
}
