package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
)

const (
	reconcileTimeout = 15 * time.Second

	// a signed transaction can still land until its blockhash expires
	blockhashLifetime = 90 * time.Second
)

// Gateway is the value transfer entry point used by the claim engine
type Gateway struct {
	ledger  Ledger
	timeout time.Duration
	logger  *slog.Logger
}

// NewGateway wraps a ledger. timeout bounds a single payout including
// confirmation.
func NewGateway(l Ledger, timeout time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		ledger:  l,
		timeout: timeout,
		logger:  logger,
	}
}

// PayTimeout is the longest a call to Pay can run
func (g *Gateway) PayTimeout() time.Duration {
	return g.timeout + reconcileTimeout
}

// Bound is the longest a payout can stay unresolved: Pay itself plus the
// window in which a submitted transaction may still land.
func (g *Gateway) Bound() time.Duration {
	return g.PayTimeout() + blockhashLifetime
}

// Pay transfers amount to recipient under the given idempotency key.
//
// The payout is detached from ctx cancellation: once started it runs until
// the ledger answers or the gateway timeout expires. A payout already made
// under the same key is returned with Reconciled set instead of paying twice.
func (g *Gateway) Pay(ctx context.Context, recipient string, amount int64, key string) (*domain.TransferReceipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %d", domain.ErrTransferFailed, amount)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	prior, err := g.ledger.LookupTransfer(ctx, key)
	if err != nil {
		// nothing submitted on this attempt
		return nil, fmt.Errorf("%w: reconciling %s: %v", domain.ErrTransferFailed, key, err)
	}
	if prior != nil {
		g.logger.Info("payout already on ledger", "recipient", recipient, "idempotency_key", key, "signature", prior.Signature)
		return g.complete(prior, recipient, key, true)
	}

	receipt, err := g.ledger.Transfer(ctx, TransferRequest{
		Recipient:      recipient,
		Amount:         amount,
		IdempotencyKey: key,
	})
	if err == nil {
		return g.complete(receipt, recipient, key, false)
	}

	err = classify(err)
	if !errors.Is(err, domain.ErrTransferAmbiguous) {
		return nil, err
	}

	// One more look before giving up: the transfer may have landed after
	// the confirmation wait ran out.
	lookCtx, lookCancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer lookCancel()
	if landed, lerr := g.ledger.LookupTransfer(lookCtx, key); lerr == nil && landed != nil {
		g.logger.Warn("ambiguous payout confirmed by reconciliation", "recipient", recipient, "idempotency_key", key)
		return g.complete(landed, recipient, key, true)
	}
	return nil, err
}

// complete fills in what the ledger left out. The amount always comes from
// the ledger: a payout whose amount cannot be read back stays ambiguous.
func (g *Gateway) complete(r *domain.TransferReceipt, recipient, key string, reconciled bool) (*domain.TransferReceipt, error) {
	if r.Amount <= 0 {
		g.logger.Error("payout found with unknown amount", "recipient", recipient, "idempotency_key", key, "signature", r.Signature)
		return nil, fmt.Errorf("%w: payout %s found with unknown amount", domain.ErrTransferAmbiguous, r.Signature)
	}
	out := *r
	if out.Recipient == "" {
		out.Recipient = recipient
	}
	out.IdempotencyKey = key
	out.Reconciled = out.Reconciled || reconciled
	if out.ConfirmedAt.IsZero() {
		out.ConfirmedAt = time.Now().UTC()
	}
	return &out, nil
}

// classify maps an unlabelled ledger error onto the transfer taxonomy.
// Anything the ledger did not mark as definite is treated as ambiguous.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrTransferFailed), errors.Is(err, domain.ErrTransferAmbiguous):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrTransferAmbiguous, err)
	}
}
