// Package ledger moves game tokens from the custodial vault to players.
//
// A Ledger is the raw value-transfer primitive. Gateway wraps it with the
// rules the claim pipeline relies on: every payout carries an idempotency
// key, a prior payout with the same key is found before anything new is
// submitted, and failures are split into definite and ambiguous outcomes.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
)

// TransferRequest is a single vault payout
type TransferRequest struct {
	Recipient      string
	Amount         int64
	IdempotencyKey string
}

// Ledger is an external value-transfer system.
//
// Transfer errors must wrap domain.ErrTransferFailed when nothing was paid
// and domain.ErrTransferAmbiguous when the outcome is unknown. LookupTransfer
// returns nil, nil when no payout with the key exists.
type Ledger interface {
	Transfer(ctx context.Context, req TransferRequest) (*domain.TransferReceipt, error)
	LookupTransfer(ctx context.Context, idempotencyKey string) (*domain.TransferReceipt, error)
}

// IdempotencyKey derives the payout key for a wallet's claim of a location.
// A location pays a wallet at most once, so the pair identifies the payout
// across retries and re-signed requests.
func IdempotencyKey(wallet, locationID string) string {
	sum := sha256.Sum256([]byte(wallet + "\x00" + locationID))
	return hex.EncodeToString(sum[:16])
}
