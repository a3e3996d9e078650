package reward

import "github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"

// dropChance is the probability a claim at a tier yields gear. Rarer
// locations are more generous.
var dropChance = map[domain.Tier]float64{
	domain.TierCommon:    0.04,
	domain.TierRare:      0.09,
	domain.TierEpic:      0.18,
	domain.TierLegendary: 0.35,
}

var gearNames = map[domain.Tier][]string{
	domain.TierCommon:    {"Pipe Rifle", "10mm Pistol", "Leather Armor", "Vault Suit"},
	domain.TierRare:      {"Hunting Rifle", "Combat Shotgun", "Laser Pistol", "Metal Armor"},
	domain.TierEpic:      {"Plasma Rifle", "Gauss Rifle", "Combat Armor", "T-51b Power Armor"},
	domain.TierLegendary: {"Alien Blaster", "Fat Man", "Lincoln's Repeater", "Experimental MIRV"},
}

type effectRange struct {
	Type     domain.EffectType
	Min, Max int
}

var effectPool = map[domain.Tier][]effectRange{
	domain.TierCommon: {
		{domain.EffectMaxHP, 5, 20},
		{domain.EffectRadResist, 20, 60},
	},
	domain.TierRare: {
		{domain.EffectMaxHP, 25, 50},
		{domain.EffectRadResist, 70, 140},
		{domain.EffectCapsBonus, 10, 25},
	},
	domain.TierEpic: {
		{domain.EffectMaxHP, 50, 90},
		{domain.EffectRadResist, 150, 250},
		{domain.EffectCapsBonus, 25, 45},
		{domain.EffectXPBonus, 15, 30},
	},
	domain.TierLegendary: {
		{domain.EffectMaxHP, 100, 180},
		{domain.EffectRadResist, 300, 500},
		{domain.EffectCapsBonus, 40, 80},
		{domain.EffectCritDrop, 20, 40},
	},
}

var effectCount = map[domain.Tier]int{
	domain.TierCommon:    1,
	domain.TierRare:      2,
	domain.TierEpic:      2,
	domain.TierLegendary: 3,
}

var radBase = map[domain.Tier]int{
	domain.TierCommon:    20,
	domain.TierRare:      50,
	domain.TierEpic:      80,
	domain.TierLegendary: 120,
}

var xpGain = map[domain.Tier]int{
	domain.TierCommon:    30,
	domain.TierRare:      60,
	domain.TierEpic:      100,
	domain.TierLegendary: 150,
}

// DropChance returns the gear drop probability for a tier
func DropChance(t domain.Tier) float64 {
	if c, ok := dropChance[t]; ok {
		return c
	}
	return dropChance[domain.TierCommon]
}

// EffectCount returns how many effects gear of a tier carries
func EffectCount(t domain.Tier) int {
	if n, ok := effectCount[t]; ok {
		return n
	}
	return 1
}

// XPGain returns the experience awarded for claiming a location of a tier
func XPGain(t domain.Tier) int {
	if xp, ok := xpGain[t]; ok {
		return xp
	}
	return xpGain[domain.TierCommon]
}

// RadBase returns the radiation picked up at a location of a tier
func RadBase(t domain.Tier) int {
	if r, ok := radBase[t]; ok {
		return r
	}
	return radBase[domain.TierCommon]
}

func namesFor(t domain.Tier) []string {
	if n, ok := gearNames[t]; ok {
		return n
	}
	return gearNames[domain.TierCommon]
}

func poolFor(t domain.Tier) []effectRange {
	if p, ok := effectPool[t]; ok {
		return p
	}
	return effectPool[domain.TierCommon]
}
