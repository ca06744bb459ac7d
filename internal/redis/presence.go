package redisc

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 120 * time.Second

// SetOnline records a user as connected. The key expires on its own, so a
// crashed instance cannot leave a user online forever.
func SetOnline(client *redis.Client, userID string) error {
	return client.Set(context.Background(), "presence:"+userID, "online", presenceTTL).Err()
}

func SetOffline(client *redis.Client, userID string) error {
	return client.Del(context.Background(), "presence:"+userID).Err()
}

func RefreshPresence(client *redis.Client, userID string) error {
	return client.Expire(context.Background(), "presence:"+userID, presenceTTL).Err()
}

// IsOnline reports whether the user currently has a live connection on any
// server instance.
func IsOnline(client *redis.Client, userID string) (bool, error) {
	n, err := client.Exists(context.Background(), "presence:"+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
