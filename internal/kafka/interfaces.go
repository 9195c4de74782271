package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

// Consumer defines the interface for Kafka message consumption
type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// MessageHandler handles one record of the webhook topic.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg kafka.Message) error
}

// Reconciler is the part of the store the webhook feed writes to.
type Reconciler interface {
	ApplyEvent(ev models.Event) error
	ApplyStatus(convID, msgID string, status models.DeliveryStatus, at time.Time) error
}
