// Package redisc bridges room fan-out and presence across server instances.
package redisc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "dm:room:"

// RoomEnvelope wraps one broadcast so the receiving instance can reproduce
// the fan-out, including the originator exclusion.
type RoomEnvelope struct {
	RoomID        string          `json:"room_id"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

func InitRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// PublishToRoom publishes an envelope on the room's pub/sub channel. Every
// subscribed instance, including the publisher, delivers it locally.
func PublishToRoom(client *redis.Client, env RoomEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return client.Publish(context.Background(), roomChannelPrefix+env.RoomID, data).Err()
}

// SubscribeRooms consumes room envelopes until ctx is cancelled.
func SubscribeRooms(ctx context.Context, client *redis.Client, handler func(env RoomEnvelope)) {
	pubsub := client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env RoomEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Debug("bad room envelope", "channel", msg.Channel, "error", err)
				continue
			}
			if env.RoomID == "" {
				env.RoomID = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			}
			handler(env)
		}
	}
}
