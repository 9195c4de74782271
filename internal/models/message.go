package models

import (
	"time"

	"github.com/goccy/go-json"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeImage       MessageType = "image"
	MessageTypeVideo       MessageType = "video"
	MessageTypeDocument    MessageType = "document"
	MessageTypeSticker     MessageType = "sticker"
	MessageTypeLocation    MessageType = "location"
	MessageTypeContact     MessageType = "contact"
	MessageTypeReaction    MessageType = "reaction"
	MessageTypePoll        MessageType = "poll"
	MessageTypeButton      MessageType = "button"
	MessageTypeList        MessageType = "list"
	MessageTypeTemplate    MessageType = "template"
	MessageTypeUnsupported MessageType = "unsupported"
)

// MessageTypes lists every variant, renderers iterate it to prove coverage.
var MessageTypes = []MessageType{
	MessageTypeText,
	MessageTypeAudio,
	MessageTypeImage,
	MessageTypeVideo,
	MessageTypeDocument,
	MessageTypeSticker,
	MessageTypeLocation,
	MessageTypeContact,
	MessageTypeReaction,
	MessageTypePoll,
	MessageTypeButton,
	MessageTypeList,
	MessageTypeTemplate,
	MessageTypeUnsupported,
}

// ParseMessageType maps wire values onto the closed set, anything unknown is unsupported.
func ParseMessageType(s string) MessageType {
	for _, t := range MessageTypes {
		if string(t) == s {
			return t
		}
	}
	return MessageTypeUnsupported
}

// IsBinary reports whether the content of t is a media payload.
func (t MessageType) IsBinary() bool {
	switch t {
	case MessageTypeAudio, MessageTypeImage, MessageTypeVideo, MessageTypeDocument, MessageTypeSticker:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusComposing DeliveryStatus = "composing"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Message is the canonical chat message as stored by the CRM backend.
type Message struct {
	ID              string      `json:"id" bson:"id"`
	ConversationID  string      `json:"conversationId" bson:"conversation_id"`
	IsFromContact   bool        `json:"isFromContact" bson:"is_from_contact"`
	MessageType     MessageType `json:"messageType" bson:"message_type"`
	Content         string      `json:"content" bson:"content"`
	Metadata        Metadata    `json:"metadata" bson:"-"`
	SentAt          *time.Time  `json:"sentAt,omitempty" bson:"sent_at,omitempty"`
	DeliveredAt     *time.Time  `json:"deliveredAt,omitempty" bson:"delivered_at,omitempty"`
	ReadAt          *time.Time  `json:"readAt,omitempty" bson:"read_at,omitempty"`
	IsInternalNote  bool        `json:"isInternalNote,omitempty" bson:"is_internal_note,omitempty"`
	AuthorName      string      `json:"authorName,omitempty" bson:"author_name,omitempty"`
	AuthorID        string      `json:"authorId,omitempty" bson:"author_id,omitempty"`
	IsDeletedByUser bool        `json:"isDeletedByUser,omitempty" bson:"is_deleted_by_user,omitempty"`
	IsDeleted       bool        `json:"isDeleted,omitempty" bson:"is_deleted,omitempty"`
	CorrelationID   string      `json:"correlationId,omitempty" bson:"correlation_id,omitempty"`
}

// Status derives the delivery status from the timestamps.
func (m Message) Status() DeliveryStatus {
	switch {
	case m.ReadAt != nil:
		return DeliveryStatusRead
	case m.DeliveredAt != nil:
		return DeliveryStatusDelivered
	case m.SentAt != nil:
		return DeliveryStatusSent
	}
	return DeliveryStatusComposing
}

// OrderingTime is SentAt, then DeliveredAt, then the local receipt time.
func (m Message) OrderingTime(receivedAt time.Time) time.Time {
	if m.SentAt != nil {
		return *m.SentAt
	}
	if m.DeliveredAt != nil {
		return *m.DeliveredAt
	}
	return receivedAt
}

// NormalizeDelivery back-fills missing earlier timestamps so that
// read implies delivered implies sent.
func (m *Message) NormalizeDelivery() {
	if m.ReadAt != nil && m.DeliveredAt == nil {
		t := *m.ReadAt
		m.DeliveredAt = &t
	}
	if m.DeliveredAt != nil && m.SentAt == nil {
		t := *m.DeliveredAt
		m.SentAt = &t
	}
}

// GatewayMessageID returns the gateway identifier needed for fetch and delete.
func (m Message) GatewayMessageID() string {
	return m.Metadata.MessageID
}

type messageAlias Message

type messageWire struct {
	messageAlias
	MessageType string         `json:"messageType"`
	Metadata    map[string]any `json:"metadata"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message(w.messageAlias)
	m.MessageType = ParseMessageType(w.MessageType)
	m.Metadata = DecodeMetadata(m.MessageType, w.Metadata)
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{
		messageAlias: messageAlias(m),
		MessageType:  string(m.MessageType),
		Metadata:     m.Metadata.Flatten(),
	}
	return json.Marshal(w)
}
