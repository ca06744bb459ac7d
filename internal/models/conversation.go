package models

import "time"

// ConversationSummary is one row of a user's conversation list: the peer, the
// most recent message, and how many messages from the peer are still unread.
type ConversationSummary struct {
	PeerID        string     `json:"peer_id"`
	PeerUsername  string     `json:"peer_username"`
	PeerAvatarURL string     `json:"peer_avatar_url"`
	LastMessage   *Message   `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
}
