package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements a fixed-window counter shared across replicas:
// each key/window pair is an INCR with an expiry set on first increment.
// Simpler than a true sliding-window or leaky-bucket: the external
// backend provides approximate global limiting, not a hard per-second
// guarantee.
type RedisLimiter struct {
	client     redis.UniversalClient
	ratePerSec int
	window     time.Duration
}

// NewRedisLimiter dials addr and verifies connectivity.
func NewRedisLimiter(addr string, ratePerSec, burst int) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	limit := ratePerSec
	if burst > limit {
		limit = burst
	}
	if limit <= 0 {
		limit = 10
	}
	return &RedisLimiter{client: client, ratePerSec: limit, window: time.Second}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := "groundedqa:rl:" + key
	count, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		l.client.Expire(ctx, windowKey, l.window)
	}
	return int(count) <= l.ratePerSec, nil
}
