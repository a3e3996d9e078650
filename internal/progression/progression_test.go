package progression

import (
	"testing"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyXP_CrossesMultipleLevels(t *testing.T) {
	p := domain.NewPlayerRecord("w")

	levels := ApplyXP(p, 250)

	assert.GreaterOrEqual(t, p.Level, 3)
	assert.Equal(t, 2, levels)
	assert.Less(t, p.XP, p.XPToNext)
	assert.Equal(t, 0, p.XP)
	assert.Equal(t, 225, p.XPToNext)
	assert.Equal(t, 120, p.MaxHP)
	assert.Equal(t, p.MaxHP, p.HP)
}

func TestApplyXP_InvariantHoldsForAnyGain(t *testing.T) {
	for gain := 0; gain <= 20_000; gain += 7 {
		p := domain.NewPlayerRecord("w")
		ApplyXP(p, gain)
		require.Less(t, p.XP, p.XPToNext, "gain %d", gain)
		require.GreaterOrEqual(t, p.XP, 0)
	}
}

func TestApplyXP_RepeatedGains(t *testing.T) {
	p := domain.NewPlayerRecord("w")
	for i := 0; i < 500; i++ {
		ApplyXP(p, 150)
		require.Less(t, p.XP, p.XPToNext)
	}
	assert.Greater(t, p.Level, 1)
	require.NoError(t, p.Validate())
}

func TestApplyXP_NoLevelBelowThreshold(t *testing.T) {
	p := domain.NewPlayerRecord("w")
	p.HP = 40

	levels := ApplyXP(p, 99)

	assert.Equal(t, 0, levels)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 99, p.XP)
	assert.Equal(t, 40, p.HP, "no heal without a level up")
}

func TestApplyXP_NegativeGainIgnored(t *testing.T) {
	p := domain.NewPlayerRecord("w")
	p.XP = 50
	ApplyXP(p, -500)
	assert.Equal(t, 50, p.XP)
}

func withGear(p *domain.PlayerRecord, id string, effects ...domain.Effect) {
	p.Gear = append(p.Gear, domain.GearInstance{ID: id, Name: id, Rarity: domain.TierEpic, Effects: effects})
}

func TestEquip_RecomputesMaxHP(t *testing.T) {
	p := domain.NewPlayerRecord("w")
	p.Level = 3
	RecomputeMaxHP(p)
	require.Equal(t, 120, p.MaxHP)

	withGear(p, "armor", domain.Effect{Type: domain.EffectMaxHP, Value: 50})
	withGear(p, "suit", domain.Effect{Type: domain.EffectMaxHP, Value: 15}, domain.Effect{Type: domain.EffectRadResist, Value: 40})

	require.NoError(t, Equip(p, "armor"))
	require.NoError(t, Equip(p, "suit"))
	assert.Equal(t, 185, p.MaxHP)
	assert.Equal(t, Bonuses{MaxHP: 65, RadResist: 40}, GearBonuses(p))

	// equipping twice keeps a single entry
	require.NoError(t, Equip(p, "armor"))
	assert.Len(t, p.Equipped, 2)

	p.HP = 185
	require.NoError(t, Unequip(p, "armor"))
	assert.Equal(t, 135, p.MaxHP)
	assert.Equal(t, 135, p.HP, "hp clamped to new max")
	assert.Equal(t, []string{"suit"}, p.Equipped)
	require.NoError(t, p.Validate())
}

func TestEquip_UnknownGear(t *testing.T) {
	p := domain.NewPlayerRecord("w")
	assert.ErrorIs(t, Equip(p, "nope"), domain.ErrGearNotFound)
	assert.ErrorIs(t, Unequip(p, "nope"), domain.ErrGearNotFound)
}

func TestApplyClaim(t *testing.T) {
	p := domain.NewPlayerRecord("w")
	loc := domain.Location{ID: "Freeside Shack", Rarity: domain.TierCommon, Level: 1}
	gear := &domain.GearInstance{
		ID:      "g1",
		Name:    "Pipe Rifle",
		Rarity:  domain.TierCommon,
		Effects: []domain.Effect{{Type: domain.EffectMaxHP, Value: 10}},
	}
	quests := []domain.Quest{
		{ID: "scavenge-2", Goal: 2},
		{ID: "vault-21", Objectives: []string{"Vault 21"}, Goal: 1},
	}

	levels := ApplyClaim(p, Claim{Location: loc, Caps: 42, XP: 30, Gear: gear}, quests)

	assert.Equal(t, 0, levels)
	assert.Equal(t, int64(42), p.Caps)
	assert.Equal(t, []string{"Freeside Shack"}, p.Claimed)
	assert.Equal(t, 20, p.Rads)
	assert.Equal(t, 30, p.XP)
	require.Len(t, p.Gear, 1)
	assert.Empty(t, p.Equipped, "drops are not auto-equipped")
	assert.Equal(t, []domain.QuestProgress{{ID: "scavenge-2", Progress: 1}}, p.Quests)

	ApplyClaim(p, Claim{Location: domain.Location{ID: "Vault 21", Rarity: domain.TierRare}, Caps: 10, XP: 80}, quests)

	assert.Equal(t, int64(52), p.Caps)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 70, p.Rads)
	qp, ok := p.Quest("scavenge-2")
	require.True(t, ok)
	assert.True(t, qp.Completed)
	assert.Equal(t, 2, qp.Progress)
	qp, ok = p.Quest("vault-21")
	require.True(t, ok)
	assert.True(t, qp.Completed)
	require.NoError(t, p.Validate())
}

func TestApplyClaim_RadResistFromEquippedGear(t *testing.T) {
	p := domain.NewPlayerRecord("w")
	withGear(p, "suit", domain.Effect{Type: domain.EffectRadResist, Value: 300})
	require.NoError(t, Equip(p, "suit"))

	ApplyClaim(p, Claim{Location: domain.Location{ID: "Mojave Outpost", Rarity: domain.TierLegendary}}, nil)

	assert.Equal(t, 20, p.Rads, "120 base minus 300/3")
}
