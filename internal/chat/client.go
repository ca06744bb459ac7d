package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vishalthakur9634/course-chat/internal/auth"
	redisc "github.com/Vishalthakur9634/course-chat/internal/redis"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one websocket connection. It is joined to at most one room: the
// conversation its user currently has open.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	UserID   string
	Username string
	send     chan []byte

	mu   sync.Mutex
	room string
}

// Room returns the conversation room this client is currently a member of.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

func ServeWS(hub *Hub, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(token, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:      hub,
			conn:     conn,
			UserID:   claims.UserID,
			Username: claims.Username,
			send:     make(chan []byte, 256),
		}

		hub.register <- client
		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.hub.Redis != nil {
			if err := redisc.RefreshPresence(c.hub.Redis, c.UserID); err != nil {
				slog.Debug("presence refresh failed", "error", err)
			}
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws read error", "error", err, "user_id", c.UserID)
			}
			break
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}

		c.handleEvent(ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleEvent(ev Event) {
	switch ev.Type {
	case TypeJoinRoom:
		var payload RoomPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		HandleJoinRoom(c, payload)
	case TypeLeaveRoom:
		var payload RoomPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		HandleLeaveRoom(c, payload)
	case TypePublishMessage:
		HandlePublishMessage(c, ev.Payload)
	case TypePing:
		data, _ := NewEvent(TypePong, nil)
		select {
		case c.send <- data:
		default:
		}
	}
}
