// Package replica keeps a local mirror of one wallet's player record and
// runs the passive radiation tick against it. The mirror is never
// authoritative: caps, claims and gear always come from the server.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/progression"
)

const (
	// TickInterval is how often radiation drains hp
	TickInterval = 30 * time.Second

	// RadThreshold is the effective radiation above which hp drains
	RadThreshold = 150

	// RadDivisor converts effective radiation into hp lost per tick
	RadDivisor = 250
)

// ErrNoRecord is returned before the first refresh
var ErrNoRecord = errors.New("no player record loaded")

// Source fetches the authoritative record
type Source interface {
	FetchPlayer(ctx context.Context, wallet string) (*domain.PlayerRecord, error)
}

// Stats is the derived view a client renders
type Stats struct {
	Wallet        string              `json:"wallet"`
	Level         int                 `json:"lvl"`
	HP            int                 `json:"hp"`
	MaxHP         int                 `json:"maxHp"`
	Rads          int                 `json:"rads"`
	EffectiveRads int                 `json:"effectiveRads"`
	Caps          int64               `json:"caps"`
	XP            int                 `json:"xp"`
	XPToNext      int                 `json:"xpToNext"`
	XPProgress    float64             `json:"xpProgress"`
	Bonuses       progression.Bonuses `json:"bonuses"`
	Dead          bool                `json:"dead"`
}

// Runtime mirrors one wallet's record
type Runtime struct {
	wallet   string
	source   Source
	interval time.Duration
	logger   *slog.Logger

	mu  sync.RWMutex
	rec *domain.PlayerRecord
}

// Option configures a Runtime
type Option func(*Runtime)

// WithInterval overrides the radiation tick interval
func WithInterval(d time.Duration) Option {
	return func(r *Runtime) { r.interval = d }
}

// New creates a runtime for wallet
func New(wallet string, source Source, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		wallet:   wallet,
		source:   source,
		interval: TickInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh replaces the mirror with the server's record
func (r *Runtime) Refresh(ctx context.Context) error {
	rec, err := r.source.FetchPlayer(ctx, r.wallet)
	if err != nil {
		return fmt.Errorf("refreshing player: %w", err)
	}
	r.mu.Lock()
	r.rec = rec.Clone()
	r.mu.Unlock()
	return nil
}

// Apply takes a pushed record. Records for other wallets, and records older
// than the mirror, are ignored. It reports whether the mirror changed.
func (r *Runtime) Apply(rec *domain.PlayerRecord) bool {
	if rec == nil || (rec.Wallet != "" && rec.Wallet != r.wallet) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil && rec.UpdatedAt.Before(r.rec.UpdatedAt) {
		return false
	}
	r.rec = rec.Clone()
	return true
}

// Tick applies one radiation tick and returns the hp lost
func (r *Runtime) Tick() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil || r.rec.HP <= 0 {
		return 0
	}

	eff := effectiveRads(r.rec)
	if eff <= RadThreshold {
		return 0
	}
	loss := eff / RadDivisor
	if loss > r.rec.HP {
		loss = r.rec.HP
	}
	r.rec.HP -= loss
	return loss
}

// Run ticks until ctx is done
func (r *Runtime) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lost := r.Tick(); lost > 0 {
				r.logger.Debug("radiation tick", "wallet", r.wallet, "hp_lost", lost)
			}
		}
	}
}

// Record returns a copy of the mirrored record
func (r *Runtime) Record() (*domain.PlayerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rec == nil {
		return nil, ErrNoRecord
	}
	return r.rec.Clone(), nil
}

// Stats derives the displayed values from the mirror
func (r *Runtime) Stats() (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rec == nil {
		return Stats{}, ErrNoRecord
	}
	p := r.rec
	s := Stats{
		Wallet:        r.wallet,
		Level:         p.Level,
		HP:            p.HP,
		MaxHP:         p.MaxHP,
		Rads:          p.Rads,
		EffectiveRads: effectiveRads(p),
		Caps:          p.Caps,
		XP:            p.XP,
		XPToNext:      p.XPToNext,
		Bonuses:       progression.GearBonuses(p),
		Dead:          p.HP <= 0,
	}
	if p.XPToNext > 0 {
		s.XPProgress = float64(p.XP) / float64(p.XPToNext)
	}
	return s, nil
}

func effectiveRads(p *domain.PlayerRecord) int {
	eff := p.Rads - progression.GearBonuses(p).RadResist
	if eff < 0 {
		return 0
	}
	return eff
}
