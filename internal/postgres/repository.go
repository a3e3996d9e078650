package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL-based history and snapshots
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			wallet VARCHAR(64) PRIMARY KEY,
			lvl INT NOT NULL,
			caps BIGINT NOT NULL,
			record JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS claim_events (
			id BIGSERIAL PRIMARY KEY,
			wallet VARCHAR(64) NOT NULL,
			location_id VARCHAR(128) NOT NULL,
			caps BIGINT NOT NULL,
			xp INT NOT NULL,
			gear_id VARCHAR(64),
			transfer_sig VARCHAR(128) NOT NULL,
			idempotency_key VARCHAR(128) NOT NULL UNIQUE,
			persisted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_events_wallet ON claim_events(wallet, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_events_gaps ON claim_events(created_at) WHERE NOT persisted`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordClaimEvent stores the audit row for a paid claim. Recording the same
// idempotency key twice updates the persisted flag only.
func (r *Repository) RecordClaimEvent(ctx context.Context, event domain.ClaimEvent) error {
	var gearID *string
	if event.GearID != "" {
		gearID = &event.GearID
	}

	query := `
		INSERT INTO claim_events (wallet, location_id, caps, xp, gear_id, transfer_sig, idempotency_key, persisted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key)
		DO UPDATE SET persisted = claim_events.persisted OR EXCLUDED.persisted
	`
	_, err := r.pool.Exec(ctx, query,
		event.Wallet,
		event.LocationID,
		event.Caps,
		event.XP,
		gearID,
		event.TransferSig,
		event.IdempotencyKey,
		event.Persisted,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording claim event: %w", err)
	}
	return nil
}

// MarkPersisted closes a bookkeeping gap once the record has been repaired
func (r *Repository) MarkPersisted(ctx context.Context, idempotencyKey string) error {
	result, err := r.pool.Exec(ctx, `UPDATE claim_events SET persisted = TRUE WHERE idempotency_key = $1`, idempotencyKey)
	if err != nil {
		return fmt.Errorf("marking claim persisted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: no claim event %s", domain.ErrInvalidInput, idempotencyKey)
	}
	return nil
}

// ListBookkeepingGaps returns paid claims whose player update never landed
func (r *Repository) ListBookkeepingGaps(ctx context.Context, limit int) ([]domain.ClaimEvent, error) {
	query := `
		SELECT id, wallet, location_id, caps, xp, COALESCE(gear_id, ''), transfer_sig, idempotency_key, persisted, created_at
		FROM claim_events
		WHERE NOT persisted
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.queryEvents(ctx, "listing bookkeeping gaps", query, limit)
}

// ListClaimEvents returns a wallet's most recent claims
func (r *Repository) ListClaimEvents(ctx context.Context, wallet string, limit int) ([]domain.ClaimEvent, error) {
	query := `
		SELECT id, wallet, location_id, caps, xp, COALESCE(gear_id, ''), transfer_sig, idempotency_key, persisted, created_at
		FROM claim_events
		WHERE wallet = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryEvents(ctx, "listing claim events", query, wallet, limit)
}

func (r *Repository) queryEvents(ctx context.Context, op, query string, args ...any) ([]domain.ClaimEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	events := []domain.ClaimEvent{}
	for rows.Next() {
		var e domain.ClaimEvent
		err := rows.Scan(
			&e.ID,
			&e.Wallet,
			&e.LocationID,
			&e.Caps,
			&e.XP,
			&e.GearID,
			&e.TransferSig,
			&e.IdempotencyKey,
			&e.Persisted,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning claim event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

// BatchUpsertPlayers writes player snapshots efficiently
func (r *Repository) BatchUpsertPlayers(ctx context.Context, records []*domain.PlayerRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO players (wallet, lvl, caps, record, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet)
		DO UPDATE SET lvl = $2, caps = $3, record = $4, updated_at = $5
		WHERE players.updated_at <= $5
	`
	now := time.Now()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling player %s: %w", rec.Wallet, err)
		}
		updated := rec.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		batch.Queue(query, rec.Wallet, rec.Level, rec.Caps, data, updated)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		_, err := br.Exec()
		if err != nil {
			return fmt.Errorf("batch upserting players: %w", err)
		}
	}
	return nil
}

// GetAllPlayers loads every stored snapshot (for startup restore)
func (r *Repository) GetAllPlayers(ctx context.Context) ([]*domain.PlayerRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT wallet, record FROM players`)
	if err != nil {
		return nil, fmt.Errorf("getting all players: %w", err)
	}
	defer rows.Close()

	var records []*domain.PlayerRecord
	for rows.Next() {
		var wallet string
		var data []byte
		if err := rows.Scan(&wallet, &data); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		var rec domain.PlayerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.Warn("skipping unreadable snapshot", "wallet", wallet, "error", err)
			continue
		}
		rec.Wallet = wallet
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting all players: %w", err)
	}
	return records, nil
}

// GetPlayerCount returns the number of stored snapshots
func (r *Repository) GetPlayerCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("getting player count: %w", err)
	}
	return count, nil
}
