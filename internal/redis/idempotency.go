package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medoswift-realtime/internal/apperr"
)

var ErrDuplicateRequest = fmt.Errorf("%w: request with this idempotency key already processed", apperr.ErrConflict)

// IdempotencyGuard remembers Idempotency-Key values for a TTL so that a
// retried booking or checkout is rejected instead of applied twice.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{
		client: client,
		ttl:    ttl,
	}
}

// Claim records key under scope. The returned release func forgets the key
// again, for requests that failed and may be retried; it only deletes the
// key if this claim still owns it.
func (g *IdempotencyGuard) Claim(ctx context.Context, scope, key string) (func(context.Context), error) {
	redisKey := fmt.Sprintf("idem:%s:%s", scope, key)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !ok {
		return nil, ErrDuplicateRequest
	}

	release := func(ctx context.Context) {
		_ = g.release(ctx, redisKey, token)
	}
	return release, nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (g *IdempotencyGuard) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, g.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
