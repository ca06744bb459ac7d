// Package convid derives the canonical identifier for a two-party conversation.
//
// Every layer that needs to name a conversation (the HTTP store, the
// websocket rooms, the client engine) goes through ConversationID so that
// both participants always compute the same key.
package convid

// ConversationID returns the deterministic identifier for the conversation
// between a and b. It is commutative: ConversationID(a, b) == ConversationID(b, a).
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// Peer returns the participant of conversationID that is not userID, or ""
// if userID is not a participant. It relies on ids not containing '_'.
func Peer(conversationID, userID string) string {
	for i := 0; i < len(conversationID); i++ {
		if conversationID[i] == '_' {
			left, right := conversationID[:i], conversationID[i+1:]
			switch userID {
			case left:
				return right
			case right:
				return left
			}
			return ""
		}
	}
	return ""
}

// Member reports whether userID is a participant of conversationID.
func Member(conversationID, userID string) bool {
	return Peer(conversationID, userID) != ""
}
