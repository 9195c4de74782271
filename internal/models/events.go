package models

type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventMessageUpdated EventType = "message_updated"
	EventTyping         EventType = "typing"
	EventPresence       EventType = "presence"
)

// Event is one push notification, from the websocket feed or the gateway status stream.
type Event struct {
	Type           EventType `json:"event"`
	ConversationID string    `json:"conversationId"`
	Message        *Message  `json:"message,omitempty"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	IsTyping       bool      `json:"isTyping,omitempty"`
	Presence       string    `json:"presence,omitempty"`
}
