package chat

import (
	"encoding/json"
	"log/slog"

	"github.com/Vishalthakur9634/course-chat/internal/convid"
	"github.com/Vishalthakur9634/course-chat/internal/models"
)

// HandleJoinRoom moves the client into the named conversation room. A client
// is a member of at most one room, so joining implicitly leaves the previous
// one. Only participants of the conversation may join it.
func HandleJoinRoom(c *Client, payload RoomPayload) {
	if payload.RoomID == "" {
		sendError(c, "room_id is required", "INVALID_PAYLOAD")
		return
	}
	if !convid.Member(payload.RoomID, c.UserID) {
		sendError(c, "not a participant of this conversation", "NOT_PARTICIPANT")
		return
	}

	c.setRoom(payload.RoomID)

	data, _ := NewEvent(TypeRoomJoined, RoomPayload{RoomID: payload.RoomID})
	select {
	case c.send <- data:
	default:
	}
}

// HandleLeaveRoom removes the client from the room if it is the one joined.
func HandleLeaveRoom(c *Client, payload RoomPayload) {
	if c.Room() == payload.RoomID {
		c.setRoom("")
	}

	data, _ := NewEvent(TypeRoomLeft, RoomPayload{RoomID: payload.RoomID})
	select {
	case c.send <- data:
	default:
	}
}

// HandlePublishMessage relays an already-persisted message to the other
// members of its conversation room. The originator is excluded from the
// fan-out, so a sender never receives its own broadcast back.
func HandlePublishMessage(c *Client, payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		sendError(c, "invalid message payload", "INVALID_PAYLOAD")
		return
	}
	if msg.ID <= 0 {
		sendError(c, "message must be persisted before publishing", "NOT_PERSISTED")
		return
	}
	if msg.SenderID != c.UserID {
		sendError(c, "sender mismatch", "SENDER_MISMATCH")
		return
	}
	if !convid.Member(msg.ConversationID, c.UserID) {
		sendError(c, "not a participant of this conversation", "NOT_PARTICIPANT")
		return
	}

	data, err := NewEvent(TypeMessageReceived, msg)
	if err != nil {
		slog.Error("failed to encode message event", "error", err)
		return
	}

	c.hub.BroadcastToRoom(msg.ConversationID, data, c.UserID)
}

func sendError(c *Client, message, code string) {
	data, _ := NewEvent(TypeError, ErrorPayload{Message: message, Code: code})
	select {
	case c.send <- data:
	default:
	}
}
