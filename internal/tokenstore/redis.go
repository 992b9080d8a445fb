package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tokens in Redis under prefix+key, without expiry.
// Several processes pointed at the same prefix share one session.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ PairStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. Prefix may be empty.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "questsession:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisStore) SetPair(ctx context.Context, accessToken string, refreshToken string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(KeyAccessToken), accessToken, 0)
		pipe.Set(ctx, s.key(KeyRefreshToken), refreshToken, 0)
		return nil
	})
	return err
}

func (s *RedisStore) ClearPair(ctx context.Context) error {
	return s.client.Del(ctx, s.key(KeyAccessToken), s.key(KeyRefreshToken)).Err()
}
