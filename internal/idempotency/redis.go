package idempotency

import (
	"context"
	"fmt"
	"time"

	platformredis "granta/internal/platform/redis"
)

const keyPrefix = "granta:idem:"

// Redis stores idempotency keys as TTL-bounded Redis strings, shared across
// server replicas.
type Redis struct {
	client *platformredis.Client
}

// NewRedis wraps an already-connected Redis client.
func NewRedis(client *platformredis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Remember(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("idempotency remember: %w", err)
	}
	return nil
}
