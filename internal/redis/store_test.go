package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStoreFromClient(client, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestCooldown_ReserveIsExclusive(t *testing.T) {
	s, mr := newTestStore(t)
	cd := s.Cooldowns()
	ctx := context.Background()

	ok, err := cd.Reserve(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cd.Reserve(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second reservation must fail while held")

	ok, err = cd.Reserve(ctx, "w2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "cooldown is per wallet")

	mr.FastForward(61 * time.Second)
	on, err := cd.IsOnCooldown(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestCooldown_ConcurrentReserve(t *testing.T) {
	s, _ := newTestStore(t)
	cd := s.Cooldowns()

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cd.Reserve(context.Background(), "w", time.Minute)
			if err == nil && ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestCooldown_ReleaseExtendRemaining(t *testing.T) {
	s, mr := newTestStore(t)
	cd := s.Cooldowns()
	ctx := context.Background()

	rem, err := cd.Remaining(ctx, "w")
	require.NoError(t, err)
	assert.Zero(t, rem)

	require.NoError(t, cd.SetCooldown(ctx, "w", 10*time.Second))
	require.NoError(t, cd.Extend(ctx, "w", time.Minute))
	rem, err = cd.Remaining(ctx, "w")
	require.NoError(t, err)
	assert.Greater(t, rem, 50*time.Second)

	mr.FastForward(30 * time.Second)
	on, err := cd.IsOnCooldown(ctx, "w")
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, cd.Release(ctx, "w"))
	on, err = cd.IsOnCooldown(ctx, "w")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestPlayers_GetDefaultsMissing(t *testing.T) {
	s, _ := newTestStore(t)

	rec, found, err := s.Players().Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "fresh", rec.Wallet)
	assert.Equal(t, 1, rec.Level)
	assert.Equal(t, 100, rec.HP)
	assert.NotNil(t, rec.Claimed)
}

func TestPlayers_UpdateRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ps := s.Players()
	ctx := context.Background()

	out, err := ps.Update(ctx, "w", func(p *domain.PlayerRecord) error {
		p.Caps += 42
		p.Claimed = append(p.Claimed, "Freeside Shack")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.Caps)

	rec, found, err := ps.Get(ctx, "w")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), rec.Caps)
	assert.Equal(t, []string{"Freeside Shack"}, rec.Claimed)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestPlayers_UpdateRejectsInvalidRecord(t *testing.T) {
	s, _ := newTestStore(t)
	ps := s.Players()
	ctx := context.Background()

	_, err := ps.Update(ctx, "w", func(p *domain.PlayerRecord) error {
		p.Caps = -1
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)

	_, found, err := ps.Get(ctx, "w")
	require.NoError(t, err)
	assert.False(t, found, "nothing written")
}

func TestPlayers_UpdateFnErrorAborts(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Players().Update(context.Background(), "w", func(p *domain.PlayerRecord) error {
		return domain.ErrAlreadyClaimed
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestPlayers_ConcurrentUpdatesAreNotLost(t *testing.T) {
	s, _ := newTestStore(t)
	ps := s.Players()
	ps.maxRetries = 1000

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ps.Update(context.Background(), "w", func(p *domain.PlayerRecord) error {
				p.Caps += 10
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, _, err := ps.Get(context.Background(), "w")
	require.NoError(t, err)
	assert.Equal(t, int64(n*10), rec.Caps)
}

func TestPlayers_CorruptRecord(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("player:w", `{"lvl":0}`))

	_, _, err := s.Players().Get(context.Background(), "w")
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestPlayers_ScanAndGetMany(t *testing.T) {
	s, _ := newTestStore(t)
	ps := s.Players()
	ctx := context.Background()

	wallets := []string{"a", "b", "c", "d", "e"}
	for _, w := range wallets {
		rec := domain.NewPlayerRecord(w)
		rec.Caps = 7
		require.NoError(t, ps.Save(ctx, rec))
	}

	seen := map[string]bool{}
	err := ps.Scan(ctx, 2, func(batch []*domain.PlayerRecord) error {
		for _, r := range batch {
			seen[r.Wallet] = true
			assert.Equal(t, int64(7), r.Caps)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, len(wallets))

	recs, err := ps.GetMany(ctx, []string{"a", "missing", "c"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestPlayers_SaveIfAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	ps := s.Players()
	ctx := context.Background()

	rec := domain.NewPlayerRecord("w")
	rec.Caps = 5
	ok, err := ps.SaveIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	rec.Caps = 999
	ok, err = ps.SaveIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _, err := ps.Get(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Caps)
}

func TestReceipts(t *testing.T) {
	s, mr := newTestStore(t)
	rs := s.Receipts()
	ctx := context.Background()

	got, err := rs.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	p := &domain.Payout{
		Receipt: domain.TransferReceipt{Signature: "sig", Recipient: "w", Amount: 30, IdempotencyKey: "k1"},
		Gear:    &domain.GearInstance{ID: "gear_1", Name: "Pipe Rifle", Rarity: domain.TierCommon},
	}
	require.NoError(t, rs.Put(ctx, p, time.Hour))

	got, err = rs.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sig", got.Receipt.Signature)
	assert.Equal(t, int64(30), got.Receipt.Amount)
	require.NotNil(t, got.Gear)
	assert.Equal(t, "gear_1", got.Gear.ID)

	mr.FastForward(2 * time.Hour)
	got, err = rs.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocks(t *testing.T) {
	s, mr := newTestStore(t)
	locks := s.Locks()
	ctx := context.Background()

	token, ok, err := locks.Acquire(ctx, "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = locks.Acquire(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held by the first caller")

	_, ok, err = locks.Acquire(ctx, "k2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per key")

	// a stale token must not free someone else's lock
	require.NoError(t, locks.Release(ctx, "k1", "not-the-token"))
	held, err := locks.Held(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, locks.Release(ctx, "k1", token))
	held, err = locks.Held(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, held)

	_, ok, err = locks.Acquire(ctx, "k3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(61 * time.Second)
	held, err = locks.Held(ctx, "k3")
	require.NoError(t, err)
	assert.False(t, held, "unreleased locks expire")
}
