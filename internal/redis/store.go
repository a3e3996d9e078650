package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/redis/go-redis/v9"
)

// Store owns the Redis connection shared by the cooldown, player and
// receipt stores
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// NewStore connects to Redis and verifies the connection
func NewStore(cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreFromClient(client, logger), nil
}

// NewStoreFromClient wraps an existing client
func NewStoreFromClient(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Ping checks that Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// Cooldowns returns the cooldown store backed by this connection
func (s *Store) Cooldowns() *CooldownStore {
	return &CooldownStore{client: s.client}
}

// Players returns the player store backed by this connection
func (s *Store) Players() *PlayerStore {
	return &PlayerStore{client: s.client, logger: s.logger, maxRetries: defaultUpdateRetries}
}

// Receipts returns the receipt store backed by this connection
func (s *Store) Receipts() *ReceiptStore {
	return &ReceiptStore{client: s.client}
}

// Locks returns the payout lock store backed by this connection
func (s *Store) Locks() *LockStore {
	return &LockStore{client: s.client}
}

func cooldownKey(wallet string) string {
	return "cooldown:" + wallet
}

func playerKey(wallet string) string {
	return "player:" + wallet
}

func lockKey(idempotencyKey string) string {
	return "claimlock:" + idempotencyKey
}

func receiptKey(idempotencyKey string) string {
	return "claim:" + idempotencyKey
}
