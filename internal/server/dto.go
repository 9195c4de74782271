package server

import (
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/render"
	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

type sourceResponse struct {
	Kind      render.SourceKind `json:"kind,omitempty"`
	URL       string            `json:"url,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
	MimeType  string            `json:"mimeType,omitempty"`
}

type variantResponse struct {
	Kind      render.Kind             `json:"kind"`
	Text      string                  `json:"text,omitempty"`
	Caption   string                  `json:"caption,omitempty"`
	FileName  string                  `json:"fileName,omitempty"`
	Duration  int                     `json:"duration,omitempty"`
	Source    *sourceResponse         `json:"source,omitempty"`
	Location  *models.LocationPayload `json:"location,omitempty"`
	Contact   *models.ContactPayload  `json:"contact,omitempty"`
	Reaction  *models.ReactionPayload `json:"reaction,omitempty"`
	Options   []string                `json:"options,omitempty"`
	Outbound  bool                    `json:"outbound"`
	Status    models.DeliveryStatus   `json:"status,omitempty"`
	Uploading bool                    `json:"uploading,omitempty"`
}

type messageResponse struct {
	Message models.Message  `json:"message"`
	Render  variantResponse `json:"render"`
}

type viewResponse struct {
	Conversation models.Conversation  `json:"conversation"`
	Messages     []messageResponse    `json:"messages"`
	Pending      []models.PendingSend `json:"pending"`
	Typing       []string             `json:"typing"`
	Version      uint64               `json:"version"`
}

func toVariant(v render.Variant) variantResponse {
	out := variantResponse{
		Kind:      v.Kind,
		Text:      v.Text,
		Caption:   v.Caption,
		FileName:  v.FileName,
		Duration:  v.Duration,
		Location:  v.Location,
		Contact:   v.Contact,
		Reaction:  v.Reaction,
		Options:   v.Options,
		Outbound:  v.Outbound,
		Status:    v.Status,
		Uploading: v.Uploading,
	}
	if v.Source.Kind != render.SourceNone {
		out.Source = &sourceResponse{
			Kind:      v.Source.Kind,
			URL:       v.Source.URL,
			MessageID: v.Source.MessageID,
			MimeType:  v.Source.MimeType,
		}
	}
	return out
}

func toMessage(m models.Message) messageResponse {
	return messageResponse{Message: m, Render: toVariant(render.Classify(m))}
}

func toMessages(msgs []models.Message) []messageResponse {
	return util.ConvertList(msgs, toMessage)
}

func toView(v store.View) *viewResponse {
	pending := v.Pending
	if pending == nil {
		pending = []models.PendingSend{}
	}
	typing := v.Typing
	if typing == nil {
		typing = []string{}
	}
	return &viewResponse{
		Conversation: v.Conversation,
		Messages:     toMessages(v.Messages),
		Pending:      pending,
		Typing:       typing,
		Version:      v.Version,
	}
}
