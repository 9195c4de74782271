package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nguyentranbao-ct/omni-inbox/internal/audio"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/quickreply"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/crmapi"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/gateway"
	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
)

// Author is the agent acting in the session.
type Author struct {
	ID   string
	Name string
}

type SendTextParams struct {
	ConversationID string
	Text           string
	IsInternalNote bool
	Author         Author
}

type AttachmentParams struct {
	ConversationID string
	Kind           gateway.Kind
	File           []byte
	FileName       string
	Caption        string
	Author         Author
}

type Composer interface {
	SendText(ctx context.Context, p SendTextParams) (*models.Message, error)
	SendReaction(ctx context.Context, phone, targetMessageID, emoji string) (*gateway.Ack, error)
	RemoveReaction(ctx context.Context, phone, targetMessageID string) (*gateway.Ack, error)
	// SendQuickReply returns the messages that were created, even when the
	// follow-up text failed.
	SendQuickReply(ctx context.Context, conversationID string, qr models.QuickReply, author Author) ([]models.Message, error)
	SendAttachmentWithCaption(ctx context.Context, p AttachmentParams) (*models.Message, error)
	SendAudio(ctx context.Context, conversationID string, rec *audio.EncodedAudio, author Author) (*models.Message, error)
	SendLink(ctx context.Context, conversationID, link, text string, author Author) (*models.Message, error)
	HideMessage(ctx context.Context, conversationID, messageID string) error
	DeleteForEveryone(ctx context.Context, conversationID, messageID string) error
}

type composer struct {
	crm     crmapi.Client
	gateway gateway.Adapter
	store   *store.Store
	now     func() time.Time
}

func NewComposer(crm crmapi.Client, gw gateway.Adapter, st *store.Store) Composer {
	return &composer{
		crm:     crm,
		gateway: gw,
		store:   st,
		now:     time.Now,
	}
}

func (c *composer) SendText(ctx context.Context, p SendTextParams) (*models.Message, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil, models.NewPreconditionError("send_text", "message is empty")
	}
	if p.ConversationID == "" {
		return nil, models.NewPreconditionError("send_text", "conversation is missing")
	}
	req := crmapi.CreateMessageRequest{
		ConversationID: p.ConversationID,
		Content:        text,
		MessageType:    models.MessageTypeText,
		IsInternalNote: p.IsInternalNote,
		AuthorID:       p.Author.ID,
	}
	if p.IsInternalNote {
		req.AuthorName = p.Author.Name
	}
	msg, err := c.create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}
	return msg, nil
}

// create registers a pending send, posts the message and merges the
// confirmed result. Only the pending entry changes on failure.
func (c *composer) create(ctx context.Context, req crmapi.CreateMessageRequest) (*models.Message, error) {
	tempID := uuid.NewString()
	req.CorrelationID = tempID
	c.store.AddPending(models.PendingSend{
		TempID:         tempID,
		ConversationID: req.ConversationID,
		MessageType:    req.MessageType,
		Content:        req.Content,
		IsInternalNote: req.IsInternalNote,
		State:          models.PendingStateUploading,
	})
	return c.post(ctx, req)
}

func (c *composer) post(ctx context.Context, req crmapi.CreateMessageRequest) (*models.Message, error) {
	msg, err := c.crm.CreateMessage(ctx, req)
	if err != nil {
		c.store.FailPending(req.ConversationID, req.CorrelationID, err)
		log.Warnw(ctx, "create message failed", "conversation_id", req.ConversationID, "type", req.MessageType, "error", err)
		return nil, err
	}
	c.store.MarkPendingSent(req.ConversationID, req.CorrelationID)
	c.store.MergePage(req.ConversationID, []models.Message{*msg})
	c.store.ResolvePending(req.ConversationID, req.CorrelationID)
	return msg, nil
}

func (c *composer) SendReaction(ctx context.Context, phone, targetMessageID, emoji string) (*gateway.Ack, error) {
	if phone == "" {
		return nil, models.NewPreconditionError("send_reaction", "contact phone is missing")
	}
	if emoji == "" {
		return nil, models.NewPreconditionError("send_reaction", "emoji is missing")
	}
	ack, err := c.gateway.SendReaction(ctx, phone, targetMessageID, emoji)
	if err != nil {
		return nil, fmt.Errorf("send reaction: %w", err)
	}
	return ack, nil
}

func (c *composer) RemoveReaction(ctx context.Context, phone, targetMessageID string) (*gateway.Ack, error) {
	if phone == "" {
		return nil, models.NewPreconditionError("remove_reaction", "contact phone is missing")
	}
	ack, err := c.gateway.RemoveReaction(ctx, phone, targetMessageID)
	if err != nil {
		return nil, fmt.Errorf("remove reaction: %w", err)
	}
	return ack, nil
}

func (c *composer) SendQuickReply(ctx context.Context, conversationID string, qr models.QuickReply, author Author) ([]models.Message, error) {
	steps, err := quickreply.Expand(qr)
	if err != nil {
		return nil, err
	}

	sent := make([]models.Message, 0, len(steps))
	for i, step := range steps {
		msg, err := c.create(ctx, stepRequest(conversationID, step, author))
		if err != nil {
			if i == 0 {
				return nil, &models.SendError{Step: models.SendStepPrimary, Err: err}
			}
			log.Warnw(ctx, "quick reply follow-up failed", "conversation_id", conversationID, "quick_reply_id", qr.ID, "error", err)
			return sent, &models.SendError{Step: models.SendStepSecondary, Partial: true, Err: err}
		}
		sent = append(sent, *msg)
	}
	return sent, nil
}

func stepRequest(conversationID string, step quickreply.Step, author Author) crmapi.CreateMessageRequest {
	req := crmapi.CreateMessageRequest{
		ConversationID: conversationID,
		MessageType:    step.Type,
		Content:        step.Content,
		AuthorID:       author.ID,
	}
	switch step.Type {
	case models.MessageTypeAudio:
		req.Content = step.FileURL
		req.Metadata.Payload = models.AudioPayload{}
	case models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeDocument:
		req.Content = step.FileURL
		req.Metadata.Payload = models.MediaPayload{URL: step.FileURL}
	}
	return req
}

func (c *composer) contactPhone(op, conversationID string) (string, error) {
	conv, ok := c.store.Conversation(conversationID)
	if !ok {
		return "", models.NewPreconditionError(op, "conversation is not open")
	}
	if conv.ContactPhone == "" {
		return "", models.NewPreconditionError(op, "contact phone is missing")
	}
	return conv.ContactPhone, nil
}

func (c *composer) SendAttachmentWithCaption(ctx context.Context, p AttachmentParams) (*models.Message, error) {
	op := "send_" + string(p.Kind)
	phone, err := c.contactPhone(op, p.ConversationID)
	if err != nil {
		return nil, err
	}

	tempID := uuid.NewString()
	c.store.AddPending(models.PendingSend{
		TempID:         tempID,
		ConversationID: p.ConversationID,
		MessageType:    p.Kind.MessageType(),
		Caption:        p.Caption,
		State:          models.PendingStateUploading,
	})

	ref, err := c.gateway.Upload(ctx, gateway.UploadRequest{
		Kind:           p.Kind,
		File:           p.File,
		FileName:       p.FileName,
		ConversationID: p.ConversationID,
		ContactPhone:   phone,
		Caption:        p.Caption,
	})
	if err != nil {
		c.store.FailPending(p.ConversationID, tempID, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	msg, err := c.post(ctx, crmapi.CreateMessageRequest{
		ConversationID: p.ConversationID,
		Content:        ref.URL,
		MessageType:    p.Kind.MessageType(),
		AuthorID:       p.Author.ID,
		CorrelationID:  tempID,
		Metadata: models.Metadata{
			MessageID: ref.MessageID,
			ZaapID:    ref.ZaapID,
			Payload: models.MediaPayload{
				URL:      ref.URL,
				MimeType: ref.MimeType,
				Caption:  p.Caption,
				FileName: p.FileName,
				Size:     ref.Size,
			},
		},
	})
	if err != nil {
		// the file already reached the contact
		return nil, &models.SendError{Step: models.SendStepSecondary, Partial: true, Err: err}
	}
	return msg, nil
}

func (c *composer) SendAudio(ctx context.Context, conversationID string, rec *audio.EncodedAudio, author Author) (*models.Message, error) {
	if rec == nil || len(rec.Data) == 0 {
		return nil, models.NewPreconditionError("send_audio", "recording is empty")
	}
	mime := rec.MimeType
	if mime == "" {
		mime = audio.DefaultMimeType
	}
	msg, err := c.create(ctx, crmapi.CreateMessageRequest{
		ConversationID: conversationID,
		Content:        "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(rec.Data),
		MessageType:    models.MessageTypeAudio,
		AuthorID:       author.ID,
		Metadata: models.Metadata{
			Payload: models.AudioPayload{MimeType: mime, Duration: rec.Duration},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send audio: %w", err)
	}
	return msg, nil
}

func (c *composer) SendLink(ctx context.Context, conversationID, link, text string, author Author) (*models.Message, error) {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return nil, models.NewPreconditionError("send_link", "link must be an http(s) url")
	}
	phone, err := c.contactPhone("send_link", conversationID)
	if err != nil {
		return nil, err
	}
	ack, err := c.gateway.SendLink(ctx, phone, link, text)
	if err != nil {
		return nil, fmt.Errorf("send link: %w", err)
	}

	content := link
	if text != "" {
		content = text + "\n" + link
	}
	msg, err := c.create(ctx, crmapi.CreateMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    models.MessageTypeText,
		AuthorID:       author.ID,
		Metadata: models.Metadata{
			MessageID: ack.MessageID,
			ZaapID:    ack.ZaapID,
			Extra:     map[string]any{"linkUrl": link},
		},
	})
	if err != nil {
		return nil, &models.SendError{Step: models.SendStepSecondary, Partial: true, Err: err}
	}
	return msg, nil
}

func (c *composer) HideMessage(ctx context.Context, conversationID, messageID string) error {
	if _, err := c.store.Message(conversationID, messageID); err != nil {
		return err
	}
	if err := c.crm.HideMessage(ctx, messageID); err != nil {
		return fmt.Errorf("hide message: %w", err)
	}
	return c.store.HideMessage(conversationID, messageID)
}

// DeleteForEveryone records the delete in the CRM, then revokes the message on
// the channel. The store is only updated once both have succeeded.
func (c *composer) DeleteForEveryone(ctx context.Context, conversationID, messageID string) error {
	msg, err := c.store.CheckDeleteForEveryone(conversationID, messageID, c.now())
	if err != nil {
		return err
	}
	if err := c.crm.DeleteSentMessage(ctx, messageID); err != nil {
		return &models.SendError{Step: models.SendStepPrimary, Err: fmt.Errorf("delete for everyone: %w", err)}
	}
	if err := c.gateway.DeleteMessage(ctx, msg.GatewayMessageID()); err != nil {
		log.Warnw(ctx, "message deleted in crm but not revoked on channel", "message_id", messageID, "error", err)
		return &models.SendError{Step: models.SendStepSecondary, Partial: true, Err: err}
	}
	return c.store.MarkDeleted(conversationID, messageID)
}
