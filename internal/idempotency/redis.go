package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"todoflow/pkg/platform/sentinel"
)

const (
	keyPrefix     = "todoflow:idempotency:"
	pendingMarker = "\x00pending"
	donePrefix    = "\x00done:"
)

// releaseScript deletes the key only while it still holds the pending marker,
// so a late Release never erases a completed result.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Store shared by every API replica.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Reserve(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	reserved, err := s.client.SetNX(ctx, keyPrefix+key, pendingMarker, ttl).Result()
	if err != nil {
		return nil, sentinel.Unavailable(fmt.Errorf("reserve idempotency key: %w", err))
	}
	if reserved {
		return nil, nil
	}

	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; treat as a concurrent holder.
		return nil, ErrInFlight
	case err != nil:
		return nil, sentinel.Unavailable(fmt.Errorf("read idempotency key: %w", err))
	case val == pendingMarker:
		return nil, ErrInFlight
	}
	if len(val) < len(donePrefix) || val[:len(donePrefix)] != donePrefix {
		return nil, fmt.Errorf("idempotency key %q holds an unexpected value", key)
	}
	return []byte(val[len(donePrefix):]), nil
}

func (s *Redis) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, donePrefix+string(result), ttl).Err(); err != nil {
		return sentinel.Unavailable(fmt.Errorf("complete idempotency key: %w", err))
	}
	return nil
}

func (s *Redis) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{keyPrefix + key}, pendingMarker).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return sentinel.Unavailable(fmt.Errorf("release idempotency key: %w", err))
	}
	return nil
}
