package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/progression"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/signature"
)

// ErrHistoryDisabled is returned when no claim history store is configured
var ErrHistoryDisabled = errors.New("claim history not available")

// History reads the claim audit trail
type History interface {
	ListClaimEvents(ctx context.Context, wallet string, limit int) ([]domain.ClaimEvent, error)
	ListBookkeepingGaps(ctx context.Context, limit int) ([]domain.ClaimEvent, error)
}

// PlayerView is a player record with derived values
type PlayerView struct {
	*domain.PlayerRecord
	Bonuses progression.Bonuses `json:"bonuses"`
	Exists  bool                `json:"exists"`
}

// PlayerService serves player reads and equipment changes
type PlayerService struct {
	players       Players
	history       History
	notifier      Notifier
	messageMaxAge time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewPlayerService creates a player service. history and notifier may be nil.
func NewPlayerService(players Players, history History, notifier Notifier, messageMaxAge time.Duration, logger *slog.Logger) *PlayerService {
	return &PlayerService{
		players:       players,
		history:       history,
		notifier:      notifier,
		messageMaxAge: messageMaxAge,
		now:           time.Now,
		logger:        logger,
	}
}

// GetPlayer returns the wallet's record, defaulted when it has none
func (s *PlayerService) GetPlayer(ctx context.Context, wallet string) (*PlayerView, error) {
	if _, err := signature.DecodeIdentity(wallet); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWallet, err)
	}
	rec, found, err := s.players.Get(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("reading player: %w", err)
	}
	return &PlayerView{
		PlayerRecord: rec,
		Bonuses:      progression.GearBonuses(rec),
		Exists:       found,
	}, nil
}

// Equip equips or unequips an owned gear instance. The request must carry
// the wallet's signature over an equip message naming the gear.
func (s *PlayerService) Equip(ctx context.Context, req domain.EquipRequest) (*PlayerView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := signature.DecodeIdentity(req.Wallet); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWallet, err)
	}

	gearID, signedAt, err := signature.ParseEquipMessage(req.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMessageMismatch, err)
	}
	if gearID != req.GearID {
		return nil, domain.ErrMessageMismatch
	}
	if s.messageMaxAge > 0 {
		if age := s.now().Sub(signedAt); age > s.messageMaxAge || age < -s.messageMaxAge {
			return nil, domain.ErrMessageExpired
		}
	}
	if !signature.Verify(req.Message, req.Signature, req.Wallet) {
		s.logger.Warn("equip signature rejected", "wallet", req.Wallet)
		return nil, domain.ErrAuthentication
	}

	rec, err := s.players.Update(ctx, req.Wallet, func(p *domain.PlayerRecord) error {
		if req.Equip {
			return progression.Equip(p, req.GearID)
		}
		return progression.Unequip(p, req.GearID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrGearNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating player: %w", err)
	}

	if s.notifier != nil {
		s.notifier.BroadcastPlayerUpdate(req.Wallet, rec)
	}
	return &PlayerView{PlayerRecord: rec, Bonuses: progression.GearBonuses(rec), Exists: true}, nil
}

// History returns a wallet's recent paid claims
func (s *PlayerService) History(ctx context.Context, wallet string, limit int) ([]domain.ClaimEvent, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	if _, err := signature.DecodeIdentity(wallet); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWallet, err)
	}
	return s.history.ListClaimEvents(ctx, wallet, clampLimit(limit))
}

// Gaps returns paid claims whose player update never landed
func (s *PlayerService) Gaps(ctx context.Context, limit int) ([]domain.ClaimEvent, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.ListBookkeepingGaps(ctx, clampLimit(limit))
}

func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 500 {
		return 500
	}
	return n
}
