package state

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions in Redis so they survive restarts.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a Store over client. Keys are namespaced with prefix
// and refreshed with ttl on every save; ttl <= 0 keeps them forever.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	return data, err
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
