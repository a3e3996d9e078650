package domain

import (
	"fmt"
	"time"
)

// Tier is the rarity tier of a location or a piece of gear
type Tier string

const (
	TierCommon    Tier = "common"
	TierRare      Tier = "rare"
	TierEpic      Tier = "epic"
	TierLegendary Tier = "legendary"
)

// Tiers lists every rarity tier from least to most rare
var Tiers = []Tier{TierCommon, TierRare, TierEpic, TierLegendary}

// Valid reports whether t is one of the known tiers
func (t Tier) Valid() bool {
	switch t {
	case TierCommon, TierRare, TierEpic, TierLegendary:
		return true
	}
	return false
}

// ParseTier converts a string into a Tier. An empty string is common.
func ParseTier(s string) (Tier, error) {
	if s == "" {
		return TierCommon, nil
	}
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown rarity tier %q", s)
	}
	return t, nil
}

// EffectType tags what a gear effect modifies
type EffectType string

const (
	EffectMaxHP     EffectType = "maxHp"
	EffectRadResist EffectType = "radResist"
	EffectCapsBonus EffectType = "capsBonus"
	EffectXPBonus   EffectType = "xpBonus"
	EffectCritDrop  EffectType = "critDrop"
)

// Valid reports whether e is one of the known effect types
func (e EffectType) Valid() bool {
	switch e {
	case EffectMaxHP, EffectRadResist, EffectCapsBonus, EffectXPBonus, EffectCritDrop:
		return true
	}
	return false
}

// Effect is a single gear modifier
type Effect struct {
	Type  EffectType `json:"type"`
	Value int        `json:"val"`
}

// GearInstance is an owned piece of gear. It never changes once generated.
type GearInstance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rarity    Tier      `json:"rarity"`
	Effects   []Effect  `json:"effects"`
	CreatedAt time.Time `json:"createdAt"`
}

// QuestProgress is a player's counter for one quest
type QuestProgress struct {
	ID        string `json:"id"`
	Progress  int    `json:"progress"`
	Completed bool   `json:"completed"`
}

// Player defaults
const (
	BaseHP       = 100
	HPPerLevel   = 10
	BaseXPToNext = 100
	RadCap       = 1000
)

// PlayerRecord is the durable progression state of a wallet
type PlayerRecord struct {
	Wallet    string          `json:"wallet,omitempty"`
	Level     int             `json:"lvl"`
	HP        int             `json:"hp"`
	MaxHP     int             `json:"maxHp"`
	Rads      int             `json:"rads"`
	Caps      int64           `json:"caps"`
	XP        int             `json:"xp"`
	XPToNext  int             `json:"xpToNext"`
	Gear      []GearInstance  `json:"gear"`
	Equipped  []string        `json:"equipped"`
	Claimed   []string        `json:"claimed"`
	Quests    []QuestProgress `json:"quests"`
	UpdatedAt time.Time       `json:"updatedAt,omitempty"`
}

// NewPlayerRecord returns the record a wallet starts with
func NewPlayerRecord(wallet string) *PlayerRecord {
	return &PlayerRecord{
		Wallet:   wallet,
		Level:    1,
		HP:       BaseHP,
		MaxHP:    BaseHP,
		XPToNext: BaseXPToNext,
		Gear:     []GearInstance{},
		Equipped: []string{},
		Claimed:  []string{},
		Quests:   []QuestProgress{},
	}
}

// HasClaimed reports whether the location is in the claimed set
func (p *PlayerRecord) HasClaimed(locationID string) bool {
	for _, id := range p.Claimed {
		if id == locationID {
			return true
		}
	}
	return false
}

// FindGear returns the owned gear with the given id
func (p *PlayerRecord) FindGear(gearID string) (*GearInstance, bool) {
	for i := range p.Gear {
		if p.Gear[i].ID == gearID {
			return &p.Gear[i], true
		}
	}
	return nil, false
}

// IsEquipped reports whether the gear id is equipped
func (p *PlayerRecord) IsEquipped(gearID string) bool {
	for _, id := range p.Equipped {
		if id == gearID {
			return true
		}
	}
	return false
}

// Quest returns the progress entry for a quest, if any
func (p *PlayerRecord) Quest(questID string) (*QuestProgress, bool) {
	for i := range p.Quests {
		if p.Quests[i].ID == questID {
			return &p.Quests[i], true
		}
	}
	return nil, false
}

// Normalize replaces nil collections so the record always encodes as arrays
func (p *PlayerRecord) Normalize() {
	if p.Gear == nil {
		p.Gear = []GearInstance{}
	}
	if p.Equipped == nil {
		p.Equipped = []string{}
	}
	if p.Claimed == nil {
		p.Claimed = []string{}
	}
	if p.Quests == nil {
		p.Quests = []QuestProgress{}
	}
}

// Clone returns a deep copy of the record
func (p *PlayerRecord) Clone() *PlayerRecord {
	c := *p
	c.Gear = make([]GearInstance, len(p.Gear))
	for i, g := range p.Gear {
		g.Effects = append([]Effect(nil), g.Effects...)
		c.Gear[i] = g
	}
	c.Equipped = append([]string{}, p.Equipped...)
	c.Claimed = append([]string{}, p.Claimed...)
	c.Quests = append([]QuestProgress{}, p.Quests...)
	return &c
}

// Validate checks the record invariants. It is applied whenever a record
// crosses the store boundary.
func (p *PlayerRecord) Validate() error {
	switch {
	case p.Level < 1:
		return fmt.Errorf("%w: level %d", ErrInvalidRecord, p.Level)
	case p.Caps < 0:
		return fmt.Errorf("%w: negative caps", ErrInvalidRecord)
	case p.MaxHP < 1 || p.HP < 0 || p.HP > p.MaxHP:
		return fmt.Errorf("%w: hp %d/%d", ErrInvalidRecord, p.HP, p.MaxHP)
	case p.Rads < 0 || p.Rads > RadCap:
		return fmt.Errorf("%w: rads %d", ErrInvalidRecord, p.Rads)
	case p.XPToNext < 1 || p.XP < 0 || p.XP >= p.XPToNext:
		return fmt.Errorf("%w: xp %d/%d", ErrInvalidRecord, p.XP, p.XPToNext)
	}

	gearIDs := make(map[string]struct{}, len(p.Gear))
	for _, g := range p.Gear {
		if !g.Rarity.Valid() {
			return fmt.Errorf("%w: gear %s has rarity %q", ErrInvalidRecord, g.ID, g.Rarity)
		}
		for _, e := range g.Effects {
			if !e.Type.Valid() {
				return fmt.Errorf("%w: gear %s has effect %q", ErrInvalidRecord, g.ID, e.Type)
			}
		}
		gearIDs[g.ID] = struct{}{}
	}
	for _, id := range p.Equipped {
		if _, ok := gearIDs[id]; !ok {
			return fmt.Errorf("%w: equipped gear %s not owned", ErrInvalidRecord, id)
		}
	}

	seen := make(map[string]struct{}, len(p.Claimed))
	for _, id := range p.Claimed {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: location %s claimed twice", ErrInvalidRecord, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
