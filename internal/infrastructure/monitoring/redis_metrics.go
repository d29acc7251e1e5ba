package monitoring

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisHook struct{}

func (RedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		duration := time.Since(start).Seconds()
		RedisCommandDuration.WithLabelValues(cmd.Name()).Observe(duration)
		if err != nil && !errors.Is(err, redis.Nil) {
			RedisErrorsTotal.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (RedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		duration := time.Since(start).Seconds()
		RedisCommandDuration.WithLabelValues("pipeline").Observe(duration)
		return err
	}
}

func (RedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := next(ctx, network, addr)
		duration := time.Since(start).Seconds()
		RedisCommandDuration.WithLabelValues("dial").Observe(duration)
		if err != nil {
			RedisErrorsTotal.WithLabelValues("dial").Inc()
		}
		return conn, err
	}
}

func InstrumentRedisClient(client *redis.Client) *redis.Client {
	client.AddHook(&RedisHook{})
	return client
}
