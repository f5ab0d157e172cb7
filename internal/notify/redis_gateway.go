package notify

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

// RedisGateway publishes notifications as JSON on a pub/sub channel so that
// front-desk screens can subscribe to them.
type RedisGateway struct {
	client  *redis.Client
	channel string
}

func NewRedisGateway(addr string, password string, db int, channel string) *RedisGateway {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if channel == "" {
		channel = "ahontrack:notifications"
	}

	return &RedisGateway{client: client, channel: channel}
}

func (g *RedisGateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}

func (g *RedisGateway) Channel() string {
	return g.channel
}

func (g *RedisGateway) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return g.client.Publish(ctx, g.channel, payload).Err()
}
