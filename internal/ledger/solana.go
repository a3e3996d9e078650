package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const memoPrefix = "atomicfizz:"

// SolanaLedger pays out an SPL token from a custodial vault keypair
type SolanaLedger struct {
	client     *rpc.Client
	vault      solana.PrivateKey
	mint       solana.PublicKey
	vaultATA   solana.PublicKey
	decimals   uint8
	commitment rpc.CommitmentType
	poll       time.Duration
	lookback   int
	logger     *slog.Logger
}

// NewSolanaLedger connects to the RPC endpoint and resolves the mint
func NewSolanaLedger(ctx context.Context, cfg *config.LedgerConfig, logger *slog.Logger) (*SolanaLedger, error) {
	vault, err := solana.PrivateKeyFromBase58(cfg.VaultSecret)
	if err != nil {
		return nil, fmt.Errorf("parsing vault secret: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("parsing token mint: %w", err)
	}
	vaultATA, _, err := solana.FindAssociatedTokenAddress(vault.PublicKey(), mint)
	if err != nil {
		return nil, fmt.Errorf("deriving vault token account: %w", err)
	}

	client := rpc.New(cfg.RPCEndpoint)
	supply, err := client.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("reading token mint: %w", err)
	}
	if supply == nil || supply.Value == nil {
		return nil, fmt.Errorf("reading token mint: empty response")
	}

	l := &SolanaLedger{
		client:     client,
		vault:      vault,
		mint:       mint,
		vaultATA:   vaultATA,
		decimals:   supply.Value.Decimals,
		commitment: rpc.CommitmentType(cfg.Commitment),
		poll:       cfg.PollInterval,
		lookback:   cfg.LookbackLimit,
		logger:     logger,
	}
	logger.Info("solana ledger ready",
		"vault", vault.PublicKey().String(),
		"mint", mint.String(),
		"decimals", l.decimals,
	)
	return l, nil
}

// Transfer implements Ledger. The transaction creates the recipient's token
// account when absent, moves the tokens and records the idempotency key in
// a memo so LookupTransfer can find it later.
func (l *SolanaLedger) Transfer(ctx context.Context, req TransferRequest) (*domain.TransferReceipt, error) {
	recipient, err := solana.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", domain.ErrTransferFailed, err)
	}
	amount, err := baseUnits(req.Amount, l.decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, l.mint)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving token account: %v", domain.ErrTransferFailed, err)
	}

	var instructions []solana.Instruction
	_, err = l.client.GetAccountInfo(ctx, destATA)
	switch {
	case errors.Is(err, rpc.ErrNotFound):
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(l.vault.PublicKey(), recipient, l.mint).Build())
	case err != nil:
		return nil, fmt.Errorf("%w: checking token account: %v", domain.ErrTransferFailed, err)
	}

	instructions = append(instructions,
		token.NewTransferInstruction(amount, l.vaultATA, destATA, l.vault.PublicKey(), []solana.PublicKey{}).Build(),
		solana.NewInstruction(
			solana.MemoProgramID,
			solana.AccountMetaSlice{solana.Meta(l.vault.PublicKey()).SIGNER()},
			[]byte(memoFor(req.IdempotencyKey, req.Amount)),
		),
	)

	recent, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching blockhash: %v", domain.ErrTransferFailed, err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(l.vault.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("%w: building transaction: %v", domain.ErrTransferFailed, err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(l.vault.PublicKey()) {
			return &l.vault
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: signing transaction: %v", domain.ErrTransferFailed, err)
	}

	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: l.commitment,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			// rejected by preflight, never broadcast
			return nil, fmt.Errorf("%w: %v", domain.ErrTransferFailed, rpcErr)
		}
		return nil, fmt.Errorf("%w: sending transaction: %v", domain.ErrTransferAmbiguous, err)
	}

	if err := l.awaitConfirmation(ctx, sig); err != nil {
		return nil, err
	}

	l.logger.Info("vault payout confirmed",
		"recipient", req.Recipient,
		"amount", req.Amount,
		"signature", sig.String(),
	)
	return &domain.TransferReceipt{
		Signature:      sig.String(),
		Recipient:      req.Recipient,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		ConfirmedAt:    time.Now().UTC(),
	}, nil
}

func (l *SolanaLedger) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		out, err := l.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: transaction %s failed: %v", domain.ErrTransferFailed, sig, status.Err)
			}
			if reached(status.ConfirmationStatus, l.commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: awaiting %s: %v", domain.ErrTransferAmbiguous, sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// LookupTransfer implements Ledger by scanning recent vault token account
// signatures for the idempotency memo
func (l *SolanaLedger) LookupTransfer(ctx context.Context, key string) (*domain.TransferReceipt, error) {
	limit := l.lookback
	sigs, err := l.client.GetSignaturesForAddressWithOpts(ctx, l.vaultATA, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("listing vault signatures: %w", err)
	}

	for _, s := range sigs {
		if s == nil || s.Err != nil || s.Memo == nil {
			continue
		}
		amount, ok := memoAmount(*s.Memo, key)
		if !ok {
			continue
		}
		receipt := &domain.TransferReceipt{
			Signature:      s.Signature.String(),
			Amount:         amount,
			IdempotencyKey: key,
			Reconciled:     true,
		}
		if s.BlockTime != nil {
			receipt.ConfirmedAt = s.BlockTime.Time().UTC()
		}
		return receipt, nil
	}
	return nil, nil
}

func memoFor(key string, amount int64) string {
	return memoPrefix + key + ":" + strconv.FormatInt(amount, 10)
}

// memoAmount finds the payout memo for key in an RPC memo field and returns
// the whole-token amount it records. The RPC renders memos as
// "[<len>] <text>" and joins several with "; ". A memo without an amount
// matches with amount 0.
func memoAmount(memo, key string) (int64, bool) {
	want := memoPrefix + key
	for _, part := range strings.Split(memo, "; ") {
		if i := strings.Index(part, "] "); strings.HasPrefix(part, "[") && i >= 0 {
			part = part[i+2:]
		}
		if part == want {
			return 0, true
		}
		if rest, ok := strings.CutPrefix(part, want+":"); ok {
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil || n <= 0 {
				return 0, true
			}
			return n, true
		}
	}
	return 0, false
}

// baseUnits converts whole tokens to the mint's smallest unit
func baseUnits(amount int64, decimals uint8) (uint64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("non-positive amount %d", amount)
	}
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		if scale > math.MaxUint64/10 {
			return 0, fmt.Errorf("mint decimals %d overflow", decimals)
		}
		scale *= 10
	}
	if uint64(amount) > math.MaxUint64/scale {
		return 0, fmt.Errorf("amount %d overflows at %d decimals", amount, decimals)
	}
	return uint64(amount) * scale, nil
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := map[rpc.ConfirmationStatusType]int{
		rpc.ConfirmationStatusProcessed: 1,
		rpc.ConfirmationStatusConfirmed: 2,
		rpc.ConfirmationStatusFinalized: 3,
	}
	return rank[status] > 0 && rank[status] >= rank[rpc.ConfirmationStatusType(want)]
}
