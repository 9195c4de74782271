package realtime

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventMessageCreated    = "message_created"
	EventMessageUpdated    = "message_updated"
	EventPresence          = "presence"
)

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type roomData struct {
	ConversationID string `json:"conversationId"`
}

type typingData struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(envelope{Event: event, Data: data})
}

// errUnknownEvent is returned for well formed frames nobody handles.
type errUnknownEvent string

func (e errUnknownEvent) Error() string {
	return fmt.Sprintf("unknown event %q", string(e))
}

// decode parses one inbound frame. Message events carry either the message
// itself or {conversationId, correlationId, message}.
func decode(frame []byte) (models.Event, error) {
	if !gjson.ValidBytes(frame) {
		return models.Event{}, fmt.Errorf("invalid frame")
	}
	name := gjson.GetBytes(frame, "event").String()
	data := gjson.GetBytes(frame, "data")
	if !data.IsObject() {
		return models.Event{}, fmt.Errorf("%s: data is not an object", name)
	}

	switch name {
	case EventMessageCreated, EventMessageUpdated:
		raw := data.Raw
		if inner := data.Get("message"); inner.IsObject() {
			raw = inner.Raw
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return models.Event{}, fmt.Errorf("%s: %w", name, err)
		}
		ev := models.Event{
			Type:           models.EventType(name),
			ConversationID: data.Get("conversationId").String(),
			CorrelationID:  data.Get("correlationId").String(),
			Message:        &msg,
		}
		if ev.ConversationID == "" {
			ev.ConversationID = msg.ConversationID
		}
		return ev, nil
	case EventTyping:
		return models.Event{
			Type:           models.EventTyping,
			ConversationID: data.Get("conversationId").String(),
			UserID:         data.Get("userId").String(),
			IsTyping:       data.Get("isTyping").Bool(),
		}, nil
	case EventPresence:
		return models.Event{
			Type:     models.EventPresence,
			UserID:   data.Get("userId").String(),
			Presence: data.Get("status").String(),
		}, nil
	}
	return models.Event{}, errUnknownEvent(name)
}
