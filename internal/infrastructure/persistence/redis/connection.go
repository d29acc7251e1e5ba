package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yuzvak/seckill-service/internal/config"
	"github.com/yuzvak/seckill-service/internal/infrastructure/monitoring"
)

type Connection struct {
	client *redis.Client
}

func NewConnection(ctx context.Context, cfg config.RedisConfig) (*Connection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.OpTimeout.Duration,
		WriteTimeout: cfg.OpTimeout.Duration,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.GetAddr(), err)
	}

	return NewConnectionFromClient(client), nil
}

// NewConnectionFromClient wraps an existing client and attaches the metrics hook.
func NewConnectionFromClient(client *redis.Client) *Connection {
	return &Connection{client: monitoring.InstrumentRedisClient(client)}
}

func (c *Connection) Close() error {
	return c.client.Close()
}

func (c *Connection) GetClient() *redis.Client {
	return c.client
}
