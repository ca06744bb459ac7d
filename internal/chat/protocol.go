package chat

import "encoding/json"

// Wire protocol shared by the server hub and the client channel. Events to
// absent room members are dropped, not queued: the channel favors latency
// over guaranteed delivery, and missed messages are recovered by re-fetching
// history from the store.
const (
	TypeJoinRoom       = "join-room"
	TypeLeaveRoom      = "leave-room"
	TypePublishMessage = "publish-message"
	TypePing           = "ping"

	TypeMessageReceived = "message-received"
	TypeRoomJoined      = "room-joined"
	TypeRoomLeft        = "room-left"
	TypeError           = "error"
	TypePong            = "pong"
)

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RoomPayload struct {
	RoomID string `json:"room_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewEvent marshals an event envelope with the given payload.
func NewEvent(eventType string, payload interface{}) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Event{Type: eventType, Payload: p})
}
