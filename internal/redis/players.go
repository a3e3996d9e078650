package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultUpdateRetries = 5

// ErrUpdateConflict is returned when a record kept changing under Update
var ErrUpdateConflict = errors.New("player record update conflict")

// PlayerStore persists PlayerRecords as JSON under player:<wallet>
type PlayerStore struct {
	client     *redis.Client
	logger     *slog.Logger
	maxRetries int
}

// Get returns the wallet's record. A wallet with no record gets the default
// record and found=false.
func (s *PlayerStore) Get(ctx context.Context, wallet string) (*domain.PlayerRecord, bool, error) {
	data, err := s.client.Get(ctx, playerKey(wallet)).Bytes()
	if err == redis.Nil {
		return domain.NewPlayerRecord(wallet), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting player: %w", err)
	}
	rec, err := decodeRecord(wallet, data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Save writes the record after validating it
func (s *PlayerStore) Save(ctx context.Context, rec *domain.PlayerRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, playerKey(rec.Wallet), data, 0).Err(); err != nil {
		return fmt.Errorf("saving player: %w", err)
	}
	return nil
}

// SaveIfAbsent writes the record only when the wallet has none yet
func (s *PlayerStore) SaveIfAbsent(ctx context.Context, rec *domain.PlayerRecord) (bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, playerKey(rec.Wallet), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("restoring player: %w", err)
	}
	return ok, nil
}

// Update applies fn to the current record and writes the result. The
// read-modify-write runs under WATCH and is retried when another writer
// touched the record in between. fn may run more than once.
func (s *PlayerStore) Update(ctx context.Context, wallet string, fn func(*domain.PlayerRecord) error) (*domain.PlayerRecord, error) {
	key := playerKey(wallet)
	var result *domain.PlayerRecord

	txf := func(tx *redis.Tx) error {
		rec := domain.NewPlayerRecord(wallet)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("getting player: %w", err)
		default:
			if rec, err = decodeRecord(wallet, data); err != nil {
				return err
			}
		}

		if err := fn(rec); err != nil {
			return err
		}

		out, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			result = rec
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		s.logger.Debug("player update conflict, retrying", "wallet", wallet, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: %s", ErrUpdateConflict, wallet)
}

// GetMany fetches the records of the given wallets in one round trip.
// Wallets without a record are omitted.
func (s *PlayerStore) GetMany(ctx context.Context, wallets []string) ([]*domain.PlayerRecord, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	keys := make([]string, len(wallets))
	for i, w := range wallets {
		keys[i] = playerKey(w)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting players: %w", err)
	}

	records := make([]*domain.PlayerRecord, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord(wallets[i], []byte(str))
		if err != nil {
			s.logger.Warn("skipping unreadable player record", "wallet", wallets[i], "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Scan walks every stored player record in batches of roughly batchSize
func (s *PlayerStore) Scan(ctx context.Context, batchSize int, fn func([]*domain.PlayerRecord) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, playerKey("*"), int64(batchSize)).Result()
		if err != nil {
			return fmt.Errorf("scanning players: %w", err)
		}

		if len(keys) > 0 {
			wallets := make([]string, len(keys))
			for i, k := range keys {
				wallets[i] = k[len(playerKey("")):]
			}
			records, err := s.GetMany(ctx, wallets)
			if err != nil {
				return err
			}
			if len(records) > 0 {
				if err := fn(records); err != nil {
					return err
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func decodeRecord(wallet string, data []byte) (*domain.PlayerRecord, error) {
	var rec domain.PlayerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", domain.ErrInvalidRecord, wallet, err)
	}
	rec.Wallet = wallet
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeRecord(rec *domain.PlayerRecord) ([]byte, error) {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding player: %w", err)
	}
	return data, nil
}
