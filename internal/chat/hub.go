package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	redisc "github.com/Vishalthakur9634/course-chat/internal/redis"
)

type BroadcastMessage struct {
	RoomID        string
	Data          []byte
	ExcludeUserID string
}

// Hub tracks connected clients and fans events out to the members of a room.
// Rooms are ephemeral: membership is whoever currently has that conversation
// open, and events sent to a room are not queued for absent members. With a
// Redis client the fan-out is bridged across server instances.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	DB    *sql.DB
	Redis *redis.Client
}

func NewHub(db *sql.DB, redisClient *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		DB:         db,
		Redis:      redisClient,
	}
}

func (h *Hub) Run() {
	if h.Redis != nil {
		go redisc.SubscribeRooms(context.Background(), h.Redis, func(env redisc.RoomEnvelope) {
			h.deliver(&BroadcastMessage{
				RoomID:        env.RoomID,
				Data:          env.Data,
				ExcludeUserID: env.ExcludeUserID,
			})
		})
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("client connected", "user_id", client.UserID, "username", client.Username)
			if h.Redis != nil {
				if err := redisc.SetOnline(h.Redis, client.UserID); err != nil {
					slog.Debug("presence update failed", "error", err)
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("client disconnected", "user_id", client.UserID)
			if h.Redis != nil {
				if err := redisc.SetOffline(h.Redis, client.UserID); err != nil {
					slog.Debug("presence update failed", "error", err)
				}
			}

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// BroadcastToRoom delivers data to every current member of roomID except
// excludeUserID. With Redis the event takes the pub/sub path so members on
// other instances receive it too.
func (h *Hub) BroadcastToRoom(roomID string, data []byte, excludeUserID string) {
	if h.Redis != nil {
		err := redisc.PublishToRoom(h.Redis, redisc.RoomEnvelope{
			RoomID:        roomID,
			ExcludeUserID: excludeUserID,
			Data:          data,
		})
		if err == nil {
			return
		}
		slog.Warn("redis publish failed, delivering locally", "room_id", roomID, "error", err)
	}
	h.broadcast <- &BroadcastMessage{RoomID: roomID, Data: data, ExcludeUserID: excludeUserID}
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.UserID == msg.ExcludeUserID {
			continue
		}
		if client.Room() != msg.RoomID {
			continue
		}
		select {
		case client.send <- msg.Data:
		default:
			// Slow consumer; the read pump will unregister it.
		}
	}
}

func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
