package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisSender publishes envelopes with Redis PUBLISH, one Redis channel per
// fan-out channel.
type RedisSender struct {
	client *redis.Client
}

// NewRedisSender creates a RedisSender.
func NewRedisSender(client *redis.Client) *RedisSender {
	return &RedisSender{client: client}
}

// NewRedisClient creates a client and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisSender) Send(ctx context.Context, channel string, events []string, payload any) error {
	data, err := json.Marshal(Envelope{Channel: channel, Events: events, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}
