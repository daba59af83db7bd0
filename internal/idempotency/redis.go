package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const reservedSentinel = "__reserved__"

// RedisStore backs Store with a Redis SET NX lock: the key is claimed
// with SET NX, and Complete overwrites the sentinel value with the
// real answer id once synthesis finishes.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore dials addr and verifies connectivity with a ping.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.New("idempotency: redis ping failed: " + err.Error())
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) key(k string) string { return "groundedqa:idem:" + k }

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), reservedSentinel, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == reservedSentinel {
		return "", false, nil
	}
	return v, true, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, answerID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), answerID, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
