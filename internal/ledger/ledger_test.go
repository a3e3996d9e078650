package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("wallet", "Freeside Shack")
	assert.Len(t, a, 32)
	assert.Equal(t, a, IdempotencyKey("wallet", "Freeside Shack"))
	assert.NotEqual(t, a, IdempotencyKey("wallet", "Vault 21"))
	assert.NotEqual(t, a, IdempotencyKey("other", "Freeside Shack"))
	// the separator keeps the fields apart
	assert.NotEqual(t, IdempotencyKey("ab", "c"), IdempotencyKey("a", "bc"))
}

func TestGateway_PaysOnce(t *testing.T) {
	ml := NewMemoryLedger(1000)
	g := NewGateway(ml, time.Second, discardLogger())
	ctx := context.Background()

	r, err := g.Pay(ctx, "w", 40, "k")
	require.NoError(t, err)
	assert.False(t, r.Reconciled)
	assert.Equal(t, int64(40), r.Amount)
	assert.Equal(t, "k", r.IdempotencyKey)

	again, err := g.Pay(ctx, "w", 40, "k")
	require.NoError(t, err)
	assert.True(t, again.Reconciled)
	assert.Equal(t, r.Signature, again.Signature)

	assert.Equal(t, 1, ml.Calls())
	assert.Equal(t, int64(40), ml.Balance("w"))
	assert.Equal(t, int64(960), ml.VaultBalance())
}

func TestGateway_DefiniteFailure(t *testing.T) {
	ml := NewMemoryLedger(10)
	g := NewGateway(ml, time.Second, discardLogger())

	_, err := g.Pay(context.Background(), "w", 40, "k")
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.NotErrorIs(t, err, domain.ErrTransferAmbiguous)
	assert.Zero(t, ml.Balance("w"))
}

func TestGateway_RejectsNonPositiveAmount(t *testing.T) {
	ml := NewMemoryLedger(10)
	g := NewGateway(ml, time.Second, discardLogger())

	_, err := g.Pay(context.Background(), "w", 0, "k")
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Zero(t, ml.Calls())
}

func TestGateway_AmbiguousButLandedIsReconciled(t *testing.T) {
	ml := NewMemoryLedger(1000)
	ml.LandNextAmbiguously()
	g := NewGateway(ml, time.Second, discardLogger())

	r, err := g.Pay(context.Background(), "w", 25, "k")
	require.NoError(t, err)
	assert.True(t, r.Reconciled)
	assert.Equal(t, int64(25), ml.Balance("w"))
}

func TestGateway_UnlabelledErrorIsAmbiguous(t *testing.T) {
	ml := NewMemoryLedger(1000)
	ml.FailNext(errors.New("connection reset"))
	g := NewGateway(ml, time.Second, discardLogger())

	_, err := g.Pay(context.Background(), "w", 25, "k")
	assert.ErrorIs(t, err, domain.ErrTransferAmbiguous)

	// a retry with the same key pays exactly once
	r, err := g.Pay(context.Background(), "w", 25, "k")
	require.NoError(t, err)
	assert.False(t, r.Reconciled)
	assert.Equal(t, int64(25), ml.Balance("w"))
}

func TestGateway_IgnoresCallerCancellation(t *testing.T) {
	ml := NewMemoryLedger(1000)
	ml.SetDelay(50 * time.Millisecond)
	g := NewGateway(ml, time.Second, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := g.Pay(ctx, "w", 10, "k")
	require.NoError(t, err)
	assert.NotEmpty(t, r.Signature)
	assert.Equal(t, int64(10), ml.Balance("w"))
}

func TestGateway_TimeoutIsAmbiguous(t *testing.T) {
	ml := NewMemoryLedger(1000)
	ml.SetDelay(time.Second)
	g := NewGateway(ml, 20*time.Millisecond, discardLogger())

	_, err := g.Pay(context.Background(), "w", 10, "k")
	assert.ErrorIs(t, err, domain.ErrTransferAmbiguous)
}

func TestMemoAmount(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	memo := memoFor(key, 61)
	assert.Equal(t, "atomicfizz:"+key+":61", memo)

	n, ok := memoAmount("[46] "+memo, key)
	assert.True(t, ok)
	assert.Equal(t, int64(61), n)

	n, ok = memoAmount("[5] hello; [46] "+memo, key)
	assert.True(t, ok)
	assert.Equal(t, int64(61), n)

	// found, but the amount is unreadable
	n, ok = memoAmount("[43] atomicfizz:"+key, key)
	assert.True(t, ok)
	assert.Zero(t, n)
	n, ok = memoAmount("atomicfizz:"+key+":lots", key)
	assert.True(t, ok)
	assert.Zero(t, n)

	_, ok = memoAmount("[47] atomicfizz:"+key+"x:61", key)
	assert.False(t, ok)
	_, ok = memoAmount("[5] hello", key)
	assert.False(t, ok)
}

// lookupOnlyLedger already knows a payout for every key and must never be
// asked to transfer
type lookupOnlyLedger struct {
	t     *testing.T
	found domain.TransferReceipt
}

func (l *lookupOnlyLedger) Transfer(context.Context, TransferRequest) (*domain.TransferReceipt, error) {
	l.t.Fatal("transfer submitted for a key that is already paid")
	return nil, nil
}

func (l *lookupOnlyLedger) LookupTransfer(_ context.Context, key string) (*domain.TransferReceipt, error) {
	r := l.found
	r.IdempotencyKey = key
	return &r, nil
}

func TestGateway_ReconciledAmountComesFromLedger(t *testing.T) {
	l := &lookupOnlyLedger{t: t, found: domain.TransferReceipt{Signature: "sig", Amount: 40, Reconciled: true}}
	g := NewGateway(l, time.Second, discardLogger())

	r, err := g.Pay(context.Background(), "w", 61, "k")
	require.NoError(t, err)
	assert.True(t, r.Reconciled)
	assert.Equal(t, int64(40), r.Amount, "the retry's own roll is never booked")
	assert.Equal(t, "w", r.Recipient)
}

func TestGateway_ReconciledWithoutAmountStaysAmbiguous(t *testing.T) {
	l := &lookupOnlyLedger{t: t, found: domain.TransferReceipt{Signature: "sig", Reconciled: true}}
	g := NewGateway(l, time.Second, discardLogger())

	r, err := g.Pay(context.Background(), "w", 61, "k")
	assert.ErrorIs(t, err, domain.ErrTransferAmbiguous)
	assert.Nil(t, r)
}

func TestGateway_Bound(t *testing.T) {
	g := NewGateway(NewMemoryLedger(0), 60*time.Second, discardLogger())
	assert.Equal(t, 60*time.Second+reconcileTimeout, g.PayTimeout())
	assert.Equal(t, g.PayTimeout()+blockhashLifetime, g.Bound())
}

func TestBaseUnits(t *testing.T) {
	v, err := baseUnits(42, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(42_000_000), v)

	v, err = baseUnits(7, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	_, err = baseUnits(0, 6)
	assert.Error(t, err)
	_, err = baseUnits(1<<62, 9)
	assert.Error(t, err)
}

func TestReached(t *testing.T) {
	assert.True(t, reached(rpc.ConfirmationStatusFinalized, rpc.CommitmentConfirmed))
	assert.True(t, reached(rpc.ConfirmationStatusConfirmed, rpc.CommitmentConfirmed))
	assert.False(t, reached(rpc.ConfirmationStatusProcessed, rpc.CommitmentConfirmed))
	assert.False(t, reached("", rpc.CommitmentProcessed))
}
