package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/catalog"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/geo"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/ledger"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/progression"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/reward"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/signature"
)

// Cooldowns is the per-wallet claim gate
type Cooldowns interface {
	Reserve(ctx context.Context, wallet string, d time.Duration) (bool, error)
	Extend(ctx context.Context, wallet string, d time.Duration) error
	Release(ctx context.Context, wallet string) error
}

// Players is the durable player record store
type Players interface {
	Get(ctx context.Context, wallet string) (*domain.PlayerRecord, bool, error)
	Update(ctx context.Context, wallet string, fn func(*domain.PlayerRecord) error) (*domain.PlayerRecord, error)
}

// PayoutLocks guards a payout while it is in flight
type PayoutLocks interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Receipts remembers payouts by idempotency key
type Receipts interface {
	Get(ctx context.Context, key string) (*domain.Payout, error)
	Put(ctx context.Context, p *domain.Payout, ttl time.Duration) error
}

// Payer moves caps from the vault to a wallet
type Payer interface {
	Pay(ctx context.Context, recipient string, amount int64, key string) (*domain.TransferReceipt, error)
}

// EventRecorder keeps the claim audit trail
type EventRecorder interface {
	RecordClaimEvent(ctx context.Context, event domain.ClaimEvent) error
}

// Notifier pushes updated records to connected clients
type Notifier interface {
	BroadcastPlayerUpdate(wallet string, rec *domain.PlayerRecord)
}

const defaultInFlightTTL = 5 * time.Minute

// ClaimDeps are the collaborators of a ClaimEngine. Events and Notifier
// are optional.
//
// InFlightTTL must cover the longest a payout can stay unresolved.
type ClaimDeps struct {
	Catalog     *catalog.Catalog
	Calculator  *reward.Calculator
	Cooldowns   Cooldowns
	Locks       PayoutLocks
	Players     Players
	Receipts    Receipts
	Payer       Payer
	Events      EventRecorder
	Notifier    Notifier
	InFlightTTL time.Duration
}

// ClaimEngine turns a signed proof of presence into a payout and a
// progression update
type ClaimEngine struct {
	deps   ClaimDeps
	rules  *config.GameConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewClaimEngine creates a claim engine
func NewClaimEngine(deps ClaimDeps, rules *config.GameConfig, logger *slog.Logger) *ClaimEngine {
	if deps.InFlightTTL <= 0 {
		deps.InFlightTTL = defaultInFlightTTL
	}
	return &ClaimEngine{
		deps:   deps,
		rules:  rules,
		now:    time.Now,
		logger: logger,
	}
}

// Claim runs one claim through validation, the cooldown gate, the payout and
// the player update.
//
// Once the payout succeeds Claim reports success even if the player update
// fails; the gap is logged, recorded and visible as Persisted=false.
func (e *ClaimEngine) Claim(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error) {
	loc, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	wallet := req.Wallet

	reserved, err := e.deps.Cooldowns.Reserve(ctx, wallet, e.rules.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("reserving cooldown: %w", err)
	}
	if !reserved {
		return nil, domain.ErrCooldown
	}

	// The reservation is dropped on every path that pays nothing, except an
	// ambiguous payout where the vault may already have sent funds.
	keepCooldown := false
	defer func() {
		if keepCooldown {
			return
		}
		if err := e.deps.Cooldowns.Release(context.WithoutCancel(ctx), wallet); err != nil {
			e.logger.Error("failed to release cooldown", "wallet", wallet, "error", err)
		}
	}()

	// One payout per (wallet, location) in flight, for as long as the
	// payout can take. The cooldown alone may expire before it resolves.
	key := ledger.IdempotencyKey(wallet, loc.ID)
	token, locked, err := e.deps.Locks.Acquire(ctx, key, e.deps.InFlightTTL)
	if err != nil {
		return nil, fmt.Errorf("locking payout: %w", err)
	}
	if !locked {
		keepCooldown = true
		return nil, fmt.Errorf("%w: payout for %s in progress", domain.ErrCooldown, loc.ID)
	}
	keepLock := false
	defer func() {
		if keepLock {
			return
		}
		if err := e.deps.Locks.Release(context.WithoutCancel(ctx), key, token); err != nil {
			e.logger.Error("failed to release payout lock", "idempotency_key", key, "error", err)
		}
	}()

	before, _, err := e.deps.Players.Get(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("reading player: %w", err)
	}
	if before.HasClaimed(loc.ID) {
		return nil, domain.ErrAlreadyClaimed
	}
	if e.rules.EnforceLevel && before.Level < loc.Level {
		return nil, fmt.Errorf("%w: %s needs level %d", domain.ErrLevelTooLow, loc.ID, loc.Level)
	}

	streak := req.Streak
	if limit := e.rules.MaxStreak; limit != nil && streak > *limit {
		streak = *limit
	}
	caps := e.deps.Calculator.CapsReward(loc.LevelWeight(), streak)
	gear := e.deps.Calculator.RollGearDrop(loc.Rarity)
	xp := reward.XPGain(loc.Rarity)

	payout, err := e.pay(ctx, wallet, caps, gear, key)
	if err != nil {
		if errors.Is(err, domain.ErrTransferAmbiguous) {
			// The lock runs out on its own once the transfer can no longer land.
			keepCooldown = true
			keepLock = true
			if xerr := e.deps.Cooldowns.Extend(context.WithoutCancel(ctx), wallet, e.rules.Cooldown); xerr != nil {
				e.logger.Warn("failed to extend cooldown", "wallet", wallet, "error", xerr)
			}
			e.logger.Error("payout outcome unknown",
				"wallet", wallet,
				"location_id", loc.ID,
				"idempotency_key", key,
				"error", err,
			)
		} else {
			e.logger.Warn("payout failed", "wallet", wallet, "location_id", loc.ID, "error", err)
		}
		return nil, err
	}
	keepCooldown = true
	if payout.Receipt.Reconciled {
		caps = payout.Receipt.Amount
		gear = payout.Gear
	}

	// Funds are out. Nothing below may be abandoned because the caller left.
	pctx := context.WithoutCancel(ctx)
	result, stored := e.commit(pctx, wallet, loc, before, payout, progression.Claim{
		Location: loc,
		Caps:     caps,
		XP:       xp,
		Gear:     gear,
	})
	// Without a stored receipt the lock stays until the ledger can answer
	// for this payout.
	keepLock = !stored
	return result, nil
}

func (e *ClaimEngine) validate(req domain.ClaimRequest) (domain.Location, error) {
	if err := req.Validate(); err != nil {
		return domain.Location{}, err
	}
	loc, ok := e.deps.Catalog.Location(req.LocationID)
	if !ok {
		return domain.Location{}, domain.ErrUnknownLocation
	}
	if _, err := signature.DecodeIdentity(req.Wallet); err != nil {
		return domain.Location{}, fmt.Errorf("%w: %v", domain.ErrInvalidWallet, err)
	}

	signedFor, signedAt, err := signature.ParseClaimMessage(req.Message)
	if err != nil {
		return domain.Location{}, fmt.Errorf("%w: %v", domain.ErrMessageMismatch, err)
	}
	if signedFor != loc.ID {
		return domain.Location{}, domain.ErrMessageMismatch
	}
	if window := e.rules.MessageMaxAge; window > 0 {
		if age := e.now().Sub(signedAt); age > window || age < -window {
			return domain.Location{}, domain.ErrMessageExpired
		}
	}

	if !signature.Verify(req.Message, req.Signature, req.Wallet) {
		e.logger.Warn("claim signature rejected", "wallet", req.Wallet, "location_id", loc.ID)
		return domain.Location{}, domain.ErrAuthentication
	}

	d := geo.Distance(*req.Lat, *req.Lng, loc.Lat, loc.Lng)
	if !geo.WithinRadius(d, e.rules.ClaimRadius) {
		return domain.Location{}, &domain.GeofenceError{Distance: d, Radius: e.rules.ClaimRadius}
	}
	return loc, nil
}

// pay answers from the receipt store when this claim was already paid and
// only then goes to the vault. A stored payout replays its gear drop.
func (e *ClaimEngine) pay(ctx context.Context, wallet string, caps int64, gear *domain.GearInstance, key string) (*domain.Payout, error) {
	prior, err := e.deps.Receipts.Get(ctx, key)
	if err != nil {
		e.logger.Warn("receipt lookup failed, falling back to ledger", "idempotency_key", key, "error", err)
	}
	if prior != nil {
		out := *prior
		out.Receipt.Reconciled = true
		return &out, nil
	}
	receipt, err := e.deps.Payer.Pay(ctx, wallet, caps, key)
	if err != nil {
		return nil, err
	}
	return &domain.Payout{Receipt: *receipt, Gear: gear}, nil
}

// commit books a paid claim. stored reports whether the payout made it to
// the receipt store.
func (e *ClaimEngine) commit(ctx context.Context, wallet string, loc domain.Location, before *domain.PlayerRecord, payout *domain.Payout, claim progression.Claim) (result *domain.ClaimResult, stored bool) {
	receipt := &payout.Receipt
	if err := e.deps.Cooldowns.Extend(ctx, wallet, e.rules.Cooldown); err != nil {
		e.logger.Warn("failed to extend cooldown", "wallet", wallet, "error", err)
	}
	stored = true
	if err := e.deps.Receipts.Put(ctx, payout, 0); err != nil {
		stored = false
		e.logger.Error("failed to store receipt", "wallet", wallet, "idempotency_key", receipt.IdempotencyKey, "error", err)
	}

	quests := e.deps.Catalog.Quests()
	var levels int
	updated, err := e.deps.Players.Update(ctx, wallet, func(p *domain.PlayerRecord) error {
		if p.HasClaimed(loc.ID) {
			return domain.ErrAlreadyClaimed
		}
		levels = progression.ApplyClaim(p, claim, quests)
		return nil
	})

	result = &domain.ClaimResult{
		Success:         true,
		Location:        loc.ID,
		CapsFound:       claim.Caps,
		XPGained:        claim.XP,
		Gear:            claim.Gear,
		TransferReceipt: receipt,
	}

	if err != nil {
		e.logger.Error("player update failed after payout",
			"critical", true,
			"wallet", wallet,
			"location_id", loc.ID,
			"caps", claim.Caps,
			"transfer_sig", receipt.Signature,
			"idempotency_key", receipt.IdempotencyKey,
			"error", err,
		)
		result.Persisted = false
		result.TotalCaps = before.Caps + claim.Caps
		result.Level = before.Level
		result.Rads = before.Rads
		result.Message = fmt.Sprintf("Found %d caps. Progress will sync later.", claim.Caps)
	} else {
		result.Persisted = true
		result.TotalCaps = updated.Caps
		result.Level = updated.Level
		result.LevelsGained = levels
		result.Rads = updated.Rads
		result.Message = fmt.Sprintf("Found %d caps at %s!", claim.Caps, loc.ID)
		if claim.Gear != nil {
			result.Message += " Picked up " + claim.Gear.Name + "."
		}
		if e.deps.Notifier != nil {
			e.deps.Notifier.BroadcastPlayerUpdate(wallet, updated)
		}
	}

	e.recordEvent(ctx, wallet, loc, receipt, claim, result.Persisted)
	e.logger.Info("claim paid",
		"wallet", wallet,
		"location_id", loc.ID,
		"caps", claim.Caps,
		"persisted", result.Persisted,
		"reconciled", receipt.Reconciled,
	)
	return result, stored
}

func (e *ClaimEngine) recordEvent(ctx context.Context, wallet string, loc domain.Location, receipt *domain.TransferReceipt, claim progression.Claim, persisted bool) {
	if e.deps.Events == nil {
		return
	}
	event := domain.ClaimEvent{
		Wallet:         wallet,
		LocationID:     loc.ID,
		Caps:           claim.Caps,
		XP:             claim.XP,
		TransferSig:    receipt.Signature,
		IdempotencyKey: receipt.IdempotencyKey,
		Persisted:      persisted,
		Timestamp:      e.now().UTC(),
	}
	if claim.Gear != nil {
		event.GearID = claim.Gear.ID
	}
	if err := e.deps.Events.RecordClaimEvent(ctx, event); err != nil {
		// Don't fail the claim if the audit row is lost
		e.logger.Warn("failed to record claim event", "wallet", event.Wallet, "error", err)
	}
}
