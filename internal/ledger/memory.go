package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/google/uuid"
)

// MemoryLedger is an in-process ledger for development and tests
type MemoryLedger struct {
	mu        sync.Mutex
	vault     int64
	balances  map[string]int64
	transfers map[string]domain.TransferReceipt
	calls     int
	failNext  error
	// landNext makes the next transfer succeed on the books but report an
	// ambiguous error to the caller
	landNext bool
	delay    time.Duration
}

// NewMemoryLedger creates a ledger whose vault holds the given balance
func NewMemoryLedger(vaultBalance int64) *MemoryLedger {
	return &MemoryLedger{
		vault:     vaultBalance,
		balances:  make(map[string]int64),
		transfers: make(map[string]domain.TransferReceipt),
	}
}

// Transfer implements Ledger
func (m *MemoryLedger) Transfer(ctx context.Context, req TransferRequest) (*domain.TransferReceipt, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrTransferAmbiguous, ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}
	if req.Amount > m.vault {
		return nil, fmt.Errorf("%w: vault balance %d below %d", domain.ErrTransferFailed, m.vault, req.Amount)
	}

	m.vault -= req.Amount
	m.balances[req.Recipient] += req.Amount
	receipt := domain.TransferReceipt{
		Signature:      uuid.NewString(),
		Recipient:      req.Recipient,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		ConfirmedAt:    time.Now().UTC(),
	}
	m.transfers[req.IdempotencyKey] = receipt

	if m.landNext {
		m.landNext = false
		return nil, fmt.Errorf("%w: confirmation timed out", domain.ErrTransferAmbiguous)
	}
	return &receipt, nil
}

// LookupTransfer implements Ledger
func (m *MemoryLedger) LookupTransfer(_ context.Context, key string) (*domain.TransferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.transfers[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// FailNext makes the next Transfer return err without paying
func (m *MemoryLedger) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// LandNextAmbiguously makes the next Transfer pay but report an unknown outcome
func (m *MemoryLedger) LandNextAmbiguously() {
	m.mu.Lock()
	m.landNext = true
	m.mu.Unlock()
}

// SetDelay slows every Transfer down
func (m *MemoryLedger) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// Calls returns how many transfers were submitted
func (m *MemoryLedger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Balance returns a recipient's balance
func (m *MemoryLedger) Balance(recipient string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[recipient]
}

// VaultBalance returns what is left in the vault
func (m *MemoryLedger) VaultBalance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vault
}
