package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shape-consumer/internal/offset"
)

// RedisStore persists checkpoints into Redis with TTL to avoid stale entries.
type RedisStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, key string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

func (s *RedisStore) Save(ctx context.Context, pos offset.Offset) error {
	if err := s.client.Set(ctx, s.key, pos.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (offset.Offset, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return offset.Unset, nil
		}
		return offset.Unset, fmt.Errorf("redis get checkpoint: %w", err)
	}
	pos, err := offset.Parse(token)
	if err != nil {
		return offset.Unset, fmt.Errorf("redis checkpoint %q: %w", s.key, err)
	}
	return pos, nil
}
