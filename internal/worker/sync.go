package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
)

// LiveStore is the Redis side of the sync
type LiveStore interface {
	Get(ctx context.Context, wallet string) (*domain.PlayerRecord, bool, error)
	SaveIfAbsent(ctx context.Context, rec *domain.PlayerRecord) (bool, error)
	Scan(ctx context.Context, batchSize int, fn func([]*domain.PlayerRecord) error) error
}

// SnapshotStore is the Postgres side of the sync
type SnapshotStore interface {
	BatchUpsertPlayers(ctx context.Context, records []*domain.PlayerRecord) error
	GetAllPlayers(ctx context.Context) ([]*domain.PlayerRecord, error)
	ListBookkeepingGaps(ctx context.Context, limit int) ([]domain.ClaimEvent, error)
	MarkPersisted(ctx context.Context, idempotencyKey string) error
}

// gapBatch bounds how many open gaps one cycle inspects
const gapBatch = 200

// SyncWorker snapshots live player records into PostgreSQL and closes
// bookkeeping gaps that have since been repaired
type SyncWorker struct {
	live     LiveStore
	snapshot SnapshotStore
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(live LiveStore, snapshot SnapshotStore, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		live:     live,
		snapshot: snapshot,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	synced, err := w.SyncToDatabase(ctx)
	if err != nil {
		w.logger.Error("failed to snapshot players", "error", err, "synced", synced)
	}

	closed, err := w.CloseGaps(ctx)
	if err != nil {
		w.logger.Error("failed to check bookkeeping gaps", "error", err)
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", synced,
		"gaps_closed", closed,
	)
}

// SyncToDatabase copies every live record into PostgreSQL in batches
func (w *SyncWorker) SyncToDatabase(ctx context.Context) (int, error) {
	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}

	synced := 0
	err := w.live.Scan(ctx, batchSize, func(records []*domain.PlayerRecord) error {
		if err := w.snapshot.BatchUpsertPlayers(ctx, records); err != nil {
			return err
		}
		synced += len(records)
		return nil
	})
	return synced, err
}

// SyncFromDatabase restores snapshots for wallets Redis no longer holds.
// Records already in Redis are newer and are left alone.
func (w *SyncWorker) SyncFromDatabase(ctx context.Context) (int, error) {
	w.logger.Info("restoring players from database")

	records, err := w.snapshot.GetAllPlayers(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range records {
		ok, err := w.live.SaveIfAbsent(ctx, rec)
		if err != nil {
			w.logger.Error("failed to restore player", "wallet", rec.Wallet, "error", err)
			// Continue with other players
			continue
		}
		if ok {
			restored++
		}
	}

	w.logger.Info("completed restoring players from database", "snapshots", len(records), "restored", restored)
	return restored, nil
}

// CloseGaps marks bookkeeping gaps persisted once the wallet's record shows
// the claimed location, which happens when the player re-claims and the
// stored receipt replays the payout into progression
func (w *SyncWorker) CloseGaps(ctx context.Context) (int, error) {
	gaps, err := w.snapshot.ListBookkeepingGaps(ctx, gapBatch)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, gap := range gaps {
		rec, found, err := w.live.Get(ctx, gap.Wallet)
		if err != nil {
			w.logger.Warn("failed to read player for gap", "wallet", gap.Wallet, "error", err)
			continue
		}
		if !found || !rec.HasClaimed(gap.LocationID) {
			continue
		}
		if err := w.snapshot.MarkPersisted(ctx, gap.IdempotencyKey); err != nil {
			w.logger.Warn("failed to close gap", "idempotency_key", gap.IdempotencyKey, "error", err)
			continue
		}
		closed++
	}
	if len(gaps) > closed {
		w.logger.Warn("bookkeeping gaps open", "count", len(gaps)-closed)
	}
	return closed, nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
