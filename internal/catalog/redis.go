package catalog

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"cafe-system/internal/common/logger"
)

// RedisInvalidator fans cache busts out over a Redis pub/sub channel. Each
// process tags its own messages so it does not react to them twice.
type RedisInvalidator struct {
	rdb     *redis.Client
	channel string
	origin  string
	lg      *logger.Logger
}

func NewRedisInvalidator(rdb *redis.Client, channel string, lg *logger.Logger) *RedisInvalidator {
	return &RedisInvalidator{rdb: rdb, channel: channel, origin: uuid.NewString(), lg: lg}
}

func (r *RedisInvalidator) Publish(ctx context.Context) error {
	return r.rdb.Publish(ctx, r.channel, r.origin).Err()
}

// Listen invalidates c on every bust published by another process until
// ctx is done.
func (r *RedisInvalidator) Listen(ctx context.Context, c *Catalog) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	r.lg.Info("catalog_invalidation_listening", map[string]any{"channel": r.channel})
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if m.Payload == r.origin {
				continue
			}
			c.Invalidate()
			r.lg.Debug("catalog_invalidated", map[string]any{"from": m.Payload})
		}
	}
}
