package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL bounds how long abandoned redirect state survives.
const defaultTTL = time.Hour

// RedisStore backs the session state with redis so that callbacks can land
// on any node behind a load balancer. Pull maps to GETDEL, which keeps the
// read-and-clear atomic.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A non-positive ttl falls back to one
// hour.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) redisKey(scope, key string) string {
	return fmt.Sprintf("paystate:%s:%s", scope, key)
}

func (s *RedisStore) Put(ctx context.Context, scope, key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(scope, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("statestore: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, scope, key string) (string, error) {
	v, err := s.client.Get(ctx, s.redisKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statestore: redis get: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Pull(ctx context.Context, scope, key string) (string, error) {
	v, err := s.client.GetDel(ctx, s.redisKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statestore: redis getdel: %w", err)
	}
	return v, nil
}
