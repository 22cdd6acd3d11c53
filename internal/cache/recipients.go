package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const recipientKeyPrefix = "recipients:reminder:"

// RecipientCache keeps resolved chat-id lists per reminder in redis so a
// tight repeat schedule does not re-join groups and recipients every cycle.
// A nil *RecipientCache is valid and behaves as a miss on every call.
type RecipientCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRecipientCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RecipientCache {
	if client == nil {
		return nil
	}
	return &RecipientCache{redis: client, ttl: ttl, logger: logger}
}

func (c *RecipientCache) Get(ctx context.Context, reminderID string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, recipientKeyPrefix+reminderID).Result()
	if err != nil {
		return nil, false
	}
	var chatIDs []string
	if err := json.Unmarshal([]byte(raw), &chatIDs); err != nil {
		return nil, false
	}
	return chatIDs, true
}

func (c *RecipientCache) Set(ctx context.Context, reminderID string, chatIDs []string) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(chatIDs)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, recipientKeyPrefix+reminderID, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("recipient cache set failed")
	}
}

// Invalidate drops one reminder's entry.
func (c *RecipientCache) Invalidate(ctx context.Context, reminderID string) {
	if c == nil {
		return
	}
	c.redis.Del(ctx, recipientKeyPrefix+reminderID)
}

// InvalidateAll drops every cached list. Called on group/recipient edits,
// which can affect any reminder's membership.
func (c *RecipientCache) InvalidateAll(ctx context.Context) {
	if c == nil {
		return
	}
	keys, err := c.redis.Keys(ctx, recipientKeyPrefix+"*").Result()
	if err != nil || len(keys) == 0 {
		return
	}
	c.redis.Del(ctx, keys...)
}

// Connect dials redis and verifies the connection.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
