package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
)

type webhookHandler struct {
	reconciler Reconciler
}

// NewWebhookHandler feeds gateway webhooks into the reconciler the same way
// realtime push events are.
func NewWebhookHandler(reconciler Reconciler) MessageHandler {
	return &webhookHandler{reconciler: reconciler}
}

func (h *webhookHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var hook Webhook
	if err := json.Unmarshal(msg.Value, &hook); err != nil {
		return fmt.Errorf("unmarshal webhook: %w", err)
	}

	switch hook.Pattern {
	case PatternMessageStatus:
		return h.handleStatus(ctx, hook.Data)
	case PatternMessageReceived:
		return h.handleReceived(ctx, hook.Data)
	}
	return &ErrSkip{Reason: "pattern " + hook.Pattern}
}

func (h *webhookHandler) handleStatus(ctx context.Context, raw json.RawMessage) error {
	var data StatusData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("unmarshal status: %w", err)
	}
	if data.ConversationID == "" || data.MessageID == "" {
		return fmt.Errorf("status without conversation or message id")
	}
	status, ok := parseStatus(data.Status)
	if !ok {
		return &ErrSkip{Reason: "status " + data.Status}
	}

	err := h.reconciler.ApplyStatus(data.ConversationID, data.MessageID, status, data.Timestamp)
	if errors.Is(err, models.ErrNotFound) {
		return &ErrSkip{Reason: "message not loaded"}
	}
	if err != nil {
		return fmt.Errorf("apply status: %w", err)
	}
	log.Debugw(ctx, "applied status", "conversation_id", data.ConversationID, "message_id", data.MessageID, "status", status)
	return nil
}

func (h *webhookHandler) handleReceived(ctx context.Context, raw json.RawMessage) error {
	var data ReceivedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("unmarshal received: %w", err)
	}
	if data.Message.ID == "" {
		return fmt.Errorf("received message without id")
	}
	data.Message.IsFromContact = true

	err := h.reconciler.ApplyEvent(models.Event{
		Type:           models.EventMessageCreated,
		ConversationID: data.ConversationID,
		Message:        &data.Message,
	})
	if err != nil {
		return fmt.Errorf("apply received: %w", err)
	}
	log.Debugw(ctx, "applied received message", "conversation_id", data.ConversationID, "message_id", data.Message.ID)
	return nil
}
