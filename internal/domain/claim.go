package domain

import (
	"time"
)

// Location is a claimable point of interest. Locations are loaded once at
// startup and never mutated.
type Location struct {
	ID     string  `json:"n"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Rarity Tier    `json:"rarity"`
	Level  int     `json:"lvl"`
}

// LevelWeight is the reward multiplier contributed by the location level
func (l Location) LevelWeight() int {
	if l.Level < 1 {
		return 1
	}
	return l.Level
}

// Quest is a static quest definition. Objectives lists the locations that
// advance the quest; an empty list means any claim counts.
type Quest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Objectives  []string `json:"objectives,omitempty"`
	Goal        int      `json:"goal"`
}

// Counts reports whether claiming the location advances the quest
func (q Quest) Counts(locationID string) bool {
	if len(q.Objectives) == 0 {
		return true
	}
	for _, id := range q.Objectives {
		if id == locationID {
			return true
		}
	}
	return false
}

// ClaimRequest is a signed proof-of-presence submission
type ClaimRequest struct {
	Wallet     string   `json:"wallet" validate:"required,max=64"`
	LocationID string   `json:"spot" validate:"required,max=128"`
	Lat        *float64 `json:"lat" validate:"required,latitude"`
	Lng        *float64 `json:"lng" validate:"required,longitude"`
	Signature  string   `json:"signature" validate:"required,max=128"`
	Message    string   `json:"message" validate:"required,max=256"`
	Streak     int      `json:"streak" validate:"min=0"`
}

// TransferReceipt confirms a vault payout
type TransferReceipt struct {
	Signature      string    `json:"signature"`
	Recipient      string    `json:"recipient"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Reconciled     bool      `json:"reconciled,omitempty"`
	ConfirmedAt    time.Time `json:"confirmedAt"`
}

// Payout is what is kept for a paid claim so that replaying it reproduces
// the original reward
type Payout struct {
	Receipt TransferReceipt `json:"receipt"`
	Gear    *GearInstance   `json:"gear,omitempty"`
}

// ClaimResult is returned for a successful claim
type ClaimResult struct {
	Success         bool             `json:"success"`
	Location        string           `json:"spot"`
	CapsFound       int64            `json:"capsFound"`
	TotalCaps       int64            `json:"totalCaps"`
	Level           int              `json:"level"`
	XPGained        int              `json:"xpGained"`
	LevelsGained    int              `json:"levelsGained"`
	Rads            int              `json:"rads"`
	Gear            *GearInstance    `json:"gear,omitempty"`
	TransferReceipt *TransferReceipt `json:"transferReceipt"`
	Persisted       bool             `json:"persisted"`
	Message         string           `json:"message"`
}

// EquipRequest toggles a gear instance. The message must be signed by the wallet.
type EquipRequest struct {
	Wallet    string `json:"wallet" validate:"required,max=64"`
	GearID    string `json:"gearId" validate:"required,max=128"`
	Equip     bool   `json:"equip"`
	Signature string `json:"signature" validate:"required,max=128"`
	Message   string `json:"message" validate:"required,max=256"`
}

// ClaimEvent is the audit row written for every paid claim
type ClaimEvent struct {
	ID             int64     `json:"id,omitempty"`
	Wallet         string    `json:"wallet"`
	LocationID     string    `json:"location_id"`
	Caps           int64     `json:"caps"`
	XP             int       `json:"xp"`
	GearID         string    `json:"gear_id,omitempty"`
	TransferSig    string    `json:"transfer_sig"`
	IdempotencyKey string    `json:"idempotency_key"`
	Persisted      bool      `json:"persisted"`
	Timestamp      time.Time `json:"timestamp"`
}
