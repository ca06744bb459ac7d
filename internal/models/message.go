package models

import "time"

// Message is the canonical persisted record of one direct message. The id is
// assigned by the database in creation order and is the sole key used to
// de-duplicate deliveries.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Body           string    `json:"body"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}
