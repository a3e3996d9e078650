package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlayerService(h *harness) *PlayerService {
	return NewPlayerService(h.store.Players(), nil, h.updates, 10*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (h *harness) equipRequest(gearID string, equip bool) domain.EquipRequest {
	msg := signature.EquipMessage(gearID, time.Now())
	return domain.EquipRequest{
		Wallet:    h.wallet,
		GearID:    gearID,
		Equip:     equip,
		Message:   msg,
		Signature: signature.Sign(h.key, msg),
	}
}

func (h *harness) giveGear(t *testing.T, g domain.GearInstance) {
	t.Helper()
	_, err := h.store.Players().Update(context.Background(), h.wallet, func(p *domain.PlayerRecord) error {
		p.Gear = append(p.Gear, g)
		return nil
	})
	require.NoError(t, err)
}

func TestGetPlayer_DefaultsUnknownWallet(t *testing.T) {
	h := newHarness(t)
	svc := newPlayerService(h)

	view, err := svc.GetPlayer(context.Background(), h.wallet)
	require.NoError(t, err)
	assert.False(t, view.Exists)
	assert.Equal(t, 1, view.Level)
	assert.Equal(t, 100, view.MaxHP)
	assert.Equal(t, 100, view.XPToNext)
	assert.Empty(t, view.Claimed)
}

func TestGetPlayer_InvalidWallet(t *testing.T) {
	h := newHarness(t)
	_, err := newPlayerService(h).GetPlayer(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidWallet)
}

func TestEquip_TogglesGear(t *testing.T) {
	h := newHarness(t)
	svc := newPlayerService(h)
	ctx := context.Background()
	h.giveGear(t, domain.GearInstance{
		ID:      "gear_1",
		Name:    "Leather Armor",
		Rarity:  domain.TierRare,
		Effects: []domain.Effect{{Type: domain.EffectMaxHP, Value: 20}, {Type: domain.EffectRadResist, Value: 30}},
	})

	view, err := svc.Equip(ctx, h.equipRequest("gear_1", true))
	require.NoError(t, err)
	assert.Equal(t, []string{"gear_1"}, view.Equipped)
	assert.Equal(t, 120, view.MaxHP)
	assert.Equal(t, 30, view.Bonuses.RadResist)
	assert.Contains(t, h.updates.wallets, h.wallet)

	view, err = svc.Equip(ctx, h.equipRequest("gear_1", false))
	require.NoError(t, err)
	assert.Empty(t, view.Equipped)
	assert.Equal(t, 100, view.MaxHP)
}

func TestEquip_Rejections(t *testing.T) {
	h := newHarness(t)
	svc := newPlayerService(h)
	ctx := context.Background()

	_, err := svc.Equip(ctx, h.equipRequest("missing", true))
	assert.ErrorIs(t, err, domain.ErrGearNotFound)
	assert.Equal(t, 404, domain.HTTPStatus(err))

	req := h.equipRequest("gear_1", true)
	req.GearID = "gear_2"
	_, err = svc.Equip(ctx, req)
	assert.ErrorIs(t, err, domain.ErrMessageMismatch)

	req = h.equipRequest("gear_1", true)
	req.Signature = signature.Sign(h.key, "Equip:gear_1:0")
	_, err = svc.Equip(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	req = h.equipRequest("gear_1", true)
	req.Message = signature.EquipMessage("gear_1", time.Now().Add(-time.Hour))
	req.Signature = signature.Sign(h.key, req.Message)
	_, err = svc.Equip(ctx, req)
	assert.ErrorIs(t, err, domain.ErrMessageExpired)
}

func TestHistory_Disabled(t *testing.T) {
	h := newHarness(t)
	svc := newPlayerService(h)

	_, err := svc.History(context.Background(), h.wallet, 10)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
	_, err = svc.Gaps(context.Background(), 10)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}
