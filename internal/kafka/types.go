package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

const (
	PatternMessageStatus   = "message.status"
	PatternMessageReceived = "message.received"
)

// Webhook is the envelope the gateway bridge publishes.
type Webhook struct {
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

type StatusData struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

type ReceivedData struct {
	ConversationID string         `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// ErrSkip marks records that are well formed but cannot be applied, like a
// status for a message this session never loaded. They are committed.
type ErrSkip struct {
	Reason string
}

func (e *ErrSkip) Error() string {
	return fmt.Sprintf("skipped: %s", e.Reason)
}

// parseStatus accepts the gateway spellings of delivery statuses.
func parseStatus(s string) (models.DeliveryStatus, bool) {
	switch strings.ToLower(s) {
	case "sent", "server_ack":
		return models.DeliveryStatusSent, true
	case "delivered", "received", "delivery_ack":
		return models.DeliveryStatusDelivered, true
	case "read", "played", "read_self":
		return models.DeliveryStatusRead, true
	}
	return "", false
}
