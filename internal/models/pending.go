package models

import "time"

type PendingState string

const (
	PendingStateUploading PendingState = "uploading"
	PendingStateSent      PendingState = "sent"
	PendingStateFailed    PendingState = "failed"
)

// PendingSend is the optimistic, local only record of an outbound message in flight.
// TempID travels to the backend as the correlation id of the created message.
type PendingSend struct {
	TempID         string       `json:"tempId"`
	ConversationID string       `json:"conversationId"`
	MessageType    MessageType  `json:"messageType"`
	Content        string       `json:"content,omitempty"`
	Caption        string       `json:"caption,omitempty"`
	IsInternalNote bool         `json:"isInternalNote,omitempty"`
	State          PendingState `json:"state"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}
