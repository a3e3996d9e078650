package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ReceiptStore remembers paid claims by idempotency key
type ReceiptStore struct {
	client *redis.Client
}

// Get returns the payout stored for the key, or nil
func (s *ReceiptStore) Get(ctx context.Context, key string) (*domain.Payout, error) {
	data, err := s.client.Get(ctx, receiptKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	var p domain.Payout
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}
	return &p, nil
}

// Put stores a payout under its receipt's idempotency key. A zero ttl keeps
// it forever.
func (s *ReceiptStore) Put(ctx context.Context, p *domain.Payout, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding receipt: %w", err)
	}
	if err := s.client.Set(ctx, receiptKey(p.Receipt.IdempotencyKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing receipt: %w", err)
	}
	return nil
}
