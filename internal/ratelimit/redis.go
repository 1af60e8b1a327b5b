package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCommands is the part of redis.Cmdable the counter uses.
type RedisCommands interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisCounter shares windows between instances. The expiry is set by the
// INCR that creates the window, so later increments never extend it. Plain
// EXPIRE keeps this working on servers older than Redis 7.
type RedisCounter struct {
	rdb RedisCommands
}

func NewRedisCounter(rdb RedisCommands) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		// window keys carry their minute, so a key left without a TTL is
		// never counted against again
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n, nil
}
