// Package reward computes claim payouts, gear drops and radiation gain.
package reward

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/google/uuid"
)

const (
	capsPerLevel   = 15
	capsRandomSpan = 50
	capsPerStreak  = 8
	minCaps        = 5
	minRadGain     = 5
)

// Calculator rolls rewards. It is safe for concurrent use.
type Calculator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	newID func() string
	now   func() time.Time
}

// Option configures a Calculator
type Option func(*Calculator)

// WithIDFunc overrides how gear ids are generated
func WithIDFunc(fn func() string) Option {
	return func(c *Calculator) { c.newID = fn }
}

// WithClock overrides the gear creation clock
func WithClock(fn func() time.Time) Option {
	return func(c *Calculator) { c.now = fn }
}

// NewCalculator creates a calculator drawing from rng. A nil rng is seeded
// from the current time.
func NewCalculator(rng *rand.Rand, opts ...Option) *Calculator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c := &Calculator{
		rng:   rng,
		newID: func() string { return "gear_" + uuid.NewString() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CapsReward returns the caps paid for a claim. The streak only adds a flat
// bonus; callers must bound it before passing it in.
func (c *Calculator) CapsReward(levelWeight, streak int) int64 {
	if levelWeight < 1 {
		levelWeight = 1
	}
	if streak < 0 {
		streak = 0
	}

	c.mu.Lock()
	roll := c.rng.Intn(capsRandomSpan)
	c.mu.Unlock()

	base := levelWeight*capsPerLevel + roll
	return int64(max(minCaps, base+streak*capsPerStreak))
}

// RollGearDrop returns a new gear instance with the tier's drop probability,
// or nil when nothing drops.
func (c *Calculator) RollGearDrop(tier domain.Tier) *domain.GearInstance {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() >= DropChance(tier) {
		return nil
	}
	return c.generate(tier)
}

// GenerateGear always produces a gear instance for the tier
func (c *Calculator) GenerateGear(tier domain.Tier) *domain.GearInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generate(tier)
}

func (c *Calculator) generate(tier domain.Tier) *domain.GearInstance {
	if !tier.Valid() {
		tier = domain.TierCommon
	}
	names := namesFor(tier)
	pool := poolFor(tier)

	effects := make([]domain.Effect, EffectCount(tier))
	for i := range effects {
		r := pool[c.rng.Intn(len(pool))]
		effects[i] = domain.Effect{
			Type:  r.Type,
			Value: r.Min + c.rng.Intn(r.Max-r.Min+1),
		}
	}

	return &domain.GearInstance{
		ID:        c.newID(),
		Name:      names[c.rng.Intn(len(names))],
		Rarity:    tier,
		Effects:   effects,
		CreatedAt: c.now().UTC(),
	}
}

// RadiationGain returns the new radiation level after a claim at a tier.
// It never lowers radiation.
func RadiationGain(currentRads int, tier domain.Tier, radResist int) int {
	gain := max(minRadGain, RadBase(tier)-radResist/3)
	return min(domain.RadCap, max(0, currentRads)+gain)
}
