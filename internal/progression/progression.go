// Package progression holds the player state machine: leveling, equipment
// and the mutation applied to a record when a claim is committed.
package progression

import (
	"fmt"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/reward"
)

// Bonuses is the sum of effects over equipped gear
type Bonuses struct {
	MaxHP     int `json:"maxHp"`
	RadResist int `json:"radResist"`
	CapsBonus int `json:"capsBonus"`
	XPBonus   int `json:"xpBonus"`
	CritDrop  int `json:"critDrop"`
}

// GearBonuses sums the effects of every equipped gear instance
func GearBonuses(p *domain.PlayerRecord) Bonuses {
	var b Bonuses
	for _, id := range p.Equipped {
		g, ok := p.FindGear(id)
		if !ok {
			continue
		}
		for _, e := range g.Effects {
			switch e.Type {
			case domain.EffectMaxHP:
				b.MaxHP += e.Value
			case domain.EffectRadResist:
				b.RadResist += e.Value
			case domain.EffectCapsBonus:
				b.CapsBonus += e.Value
			case domain.EffectXPBonus:
				b.XPBonus += e.Value
			case domain.EffectCritDrop:
				b.CritDrop += e.Value
			}
		}
	}
	return b
}

// ApplyXP adds experience and levels up as many times as the total allows.
// It returns the number of levels gained. On return XP < XPToNext.
func ApplyXP(p *domain.PlayerRecord, gain int) int {
	if gain < 0 {
		gain = 0
	}
	if p.XPToNext < 1 {
		p.XPToNext = domain.BaseXPToNext
	}

	p.XP += gain
	levels := 0
	for p.XP >= p.XPToNext {
		p.XP -= p.XPToNext
		p.Level++
		p.XPToNext = p.XPToNext * 3 / 2
		p.MaxHP += domain.HPPerLevel
		p.HP = p.MaxHP
		levels++
	}
	return levels
}

// RecomputeMaxHP derives max hp from level and equipped gear and clamps hp
func RecomputeMaxHP(p *domain.PlayerRecord) {
	p.MaxHP = domain.BaseHP + (p.Level-1)*domain.HPPerLevel + GearBonuses(p).MaxHP
	if p.HP > p.MaxHP {
		p.HP = p.MaxHP
	}
	if p.HP < 0 {
		p.HP = 0
	}
}

// Equip marks an owned gear instance as equipped
func Equip(p *domain.PlayerRecord, gearID string) error {
	if _, ok := p.FindGear(gearID); !ok {
		return fmt.Errorf("%w: %s", domain.ErrGearNotFound, gearID)
	}
	if !p.IsEquipped(gearID) {
		p.Equipped = append(p.Equipped, gearID)
	}
	RecomputeMaxHP(p)
	return nil
}

// Unequip removes a gear instance from the equipped set
func Unequip(p *domain.PlayerRecord, gearID string) error {
	if _, ok := p.FindGear(gearID); !ok {
		return fmt.Errorf("%w: %s", domain.ErrGearNotFound, gearID)
	}
	kept := p.Equipped[:0]
	for _, id := range p.Equipped {
		if id != gearID {
			kept = append(kept, id)
		}
	}
	p.Equipped = kept
	RecomputeMaxHP(p)
	return nil
}

// Claim is the in-memory reward computed for a claim
type Claim struct {
	Location domain.Location
	Caps     int64
	XP       int
	Gear     *domain.GearInstance
}

// ApplyClaim commits a paid claim to the record and returns the levels gained
func ApplyClaim(p *domain.PlayerRecord, c Claim, quests []domain.Quest) int {
	p.Normalize()

	p.Caps += c.Caps
	if !p.HasClaimed(c.Location.ID) {
		p.Claimed = append(p.Claimed, c.Location.ID)
	}

	p.Rads = reward.RadiationGain(p.Rads, c.Location.Rarity, GearBonuses(p).RadResist)

	levels := ApplyXP(p, c.XP)

	if c.Gear != nil {
		p.Gear = append(p.Gear, *c.Gear)
	}
	RecomputeMaxHP(p)

	advanceQuests(p, c.Location.ID, quests)
	return levels
}

func advanceQuests(p *domain.PlayerRecord, locationID string, quests []domain.Quest) {
	for _, q := range quests {
		if !q.Counts(locationID) {
			continue
		}
		qp, ok := p.Quest(q.ID)
		if !ok {
			p.Quests = append(p.Quests, domain.QuestProgress{ID: q.ID})
			qp = &p.Quests[len(p.Quests)-1]
		}
		if qp.Completed {
			continue
		}
		qp.Progress++
		if q.Goal > 0 && qp.Progress >= q.Goal {
			qp.Progress = q.Goal
			qp.Completed = true
		}
	}
}
