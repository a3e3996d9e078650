package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still carries the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore holds short-lived exclusive locks keyed by payout idempotency key
type LockStore struct {
	client *redis.Client
}

// Acquire takes the lock unless someone else holds it. The returned token
// is needed to release it; an unreleased lock expires after ttl.
func (s *LockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquiring payout lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lock if token still owns it
func (s *LockStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(key)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing payout lock: %w", err)
	}
	return nil
}

// Held reports whether anyone holds the lock
func (s *LockStore) Held(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("checking payout lock: %w", err)
	}
	return n > 0, nil
}
