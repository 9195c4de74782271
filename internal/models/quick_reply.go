package models

type QuickReply struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	FileURL        string      `json:"fileUrl,omitempty"`
	AdditionalText string      `json:"additionalText,omitempty"`
	Category       string      `json:"category,omitempty"`
}
