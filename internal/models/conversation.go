package models

import "time"

type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusResolved ConversationStatus = "resolved"
	ConversationStatusClosed   ConversationStatus = "closed"
)

type Conversation struct {
	ID             string             `json:"id" bson:"_id"`
	ContactID      string             `json:"contactId" bson:"contact_id"`
	ContactName    string             `json:"contactName,omitempty" bson:"contact_name,omitempty"`
	ContactPhone   string             `json:"contactPhone,omitempty" bson:"contact_phone,omitempty"`
	Channel        string             `json:"channel" bson:"channel"`
	ChannelID      string             `json:"channelId" bson:"channel_id"`
	Status         ConversationStatus `json:"status" bson:"status"`
	AssignedTeamID string             `json:"assignedTeamId,omitempty" bson:"assigned_team_id,omitempty"`
	AssignedUserID string             `json:"assignedUserId,omitempty" bson:"assigned_user_id,omitempty"`
	UnreadCount    int                `json:"unreadCount" bson:"unread_count"`
	LastMessageAt  *time.Time         `json:"lastMessageAt,omitempty" bson:"last_message_at,omitempty"`
}

// ConversationSnapshot is the reconciled state of one conversation, kept for warm starts.
type ConversationSnapshot struct {
	Conversation Conversation
	Messages     []Message
	SavedAt      time.Time
}
