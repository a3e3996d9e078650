package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore gates claims per wallet with expiring keys
type CooldownStore struct {
	client *redis.Client
}

// IsOnCooldown reports whether the wallet currently holds a cooldown
func (s *CooldownStore) IsOnCooldown(ctx context.Context, wallet string) (bool, error) {
	n, err := s.client.Exists(ctx, cooldownKey(wallet)).Result()
	if err != nil {
		return false, fmt.Errorf("checking cooldown: %w", err)
	}
	return n > 0, nil
}

// SetCooldown unconditionally starts a cooldown for the wallet
func (s *CooldownStore) SetCooldown(ctx context.Context, wallet string, d time.Duration) error {
	if err := s.client.Set(ctx, cooldownKey(wallet), time.Now().UnixMilli(), d).Err(); err != nil {
		return fmt.Errorf("setting cooldown: %w", err)
	}
	return nil
}

// Reserve atomically takes the wallet's cooldown if nobody holds it.
// It returns false when the wallet is already on cooldown.
func (s *CooldownStore) Reserve(ctx context.Context, wallet string, d time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, cooldownKey(wallet), time.Now().UnixMilli(), d).Result()
	if err != nil {
		return false, fmt.Errorf("reserving cooldown: %w", err)
	}
	return ok, nil
}

// Extend resets the expiry of a held cooldown
func (s *CooldownStore) Extend(ctx context.Context, wallet string, d time.Duration) error {
	if err := s.client.Expire(ctx, cooldownKey(wallet), d).Err(); err != nil {
		return fmt.Errorf("extending cooldown: %w", err)
	}
	return nil
}

// Release drops the wallet's cooldown
func (s *CooldownStore) Release(ctx context.Context, wallet string) error {
	if err := s.client.Del(ctx, cooldownKey(wallet)).Err(); err != nil {
		return fmt.Errorf("releasing cooldown: %w", err)
	}
	return nil
}

// Remaining returns how long the cooldown still runs, or zero
func (s *CooldownStore) Remaining(ctx context.Context, wallet string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, cooldownKey(wallet)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading cooldown ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
