package client

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/catalog"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/handler"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/ledger"
	redisstore "github.com/Unwrenchable/atomicfizzcaps-live/internal/redis"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/replica"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/reward"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/service"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/websocket"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shackLat = 36.1727
	shackLng = -115.1426
)

type stack struct {
	srv    *httptest.Server
	ledger *ledger.MemoryLedger
}

// startStack runs the whole API in-process over miniredis and the memory ledger
func startStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	store := redisstore.NewStoreFromClient(rc, logger)

	cat, err := catalog.Load("../../data")
	require.NoError(t, err)

	hub := websocket.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	mem := ledger.NewMemoryLedger(1_000_000)
	maxStreak := 20
	rules := &config.GameConfig{
		ClaimRadius:   50,
		Cooldown:      time.Minute,
		MaxStreak:     &maxStreak,
		MessageMaxAge: 10 * time.Minute,
		EnforceLevel:  true,
	}
	engine := service.NewClaimEngine(service.ClaimDeps{
		Catalog:    cat,
		Calculator: reward.NewCalculator(rand.New(rand.NewSource(7))),
		Cooldowns:  store.Cooldowns(),
		Locks:      store.Locks(),
		Players:    store.Players(),
		Receipts:   store.Receipts(),
		Payer:      ledger.NewGateway(mem, time.Second, logger),
		Notifier:   hub,
	}, rules, logger)
	players := service.NewPlayerService(store.Players(), nil, hub, rules.MessageMaxAge, logger)

	h := handler.NewHandler(engine, players, cat, hub, handler.Options{Ready: []handler.Pinger{store}}, logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &stack{srv: srv, ledger: mem}
}

func testKey(b byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return ed25519.NewKeyFromSeed(seed)
}

func TestClient_ClaimAndRead(t *testing.T) {
	s := startStack(t)
	c := New(s.srv.URL, testKey(9), WithRateLimit(100, 10))
	ctx := context.Background()

	locs, err := c.Locations(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, locs)

	res, err := c.Claim(ctx, "Freeside Shack", shackLat+0.00009, shackLng, 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Persisted)
	assert.Equal(t, res.CapsFound, s.ledger.Balance(c.Wallet()))

	p, err := c.GetPlayer(ctx, c.Wallet())
	require.NoError(t, err)
	assert.True(t, p.Exists)
	assert.Equal(t, res.CapsFound, p.Caps)
	assert.Contains(t, p.Claimed, "Freeside Shack")

	_, err = c.Claim(ctx, "Atomic Wrangler", 36.1707, -115.1397, 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Status)
	assert.ErrorIs(t, err, domain.ErrCooldown)
}

func TestClient_ServerErrors(t *testing.T) {
	s := startStack(t)
	c := New(s.srv.URL, testKey(10), WithRateLimit(100, 10))
	ctx := context.Background()

	_, err := c.Claim(ctx, "Freeside Shack", shackLat+0.01, shackLng, 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.ErrorIs(t, err, domain.ErrGeofence)
	require.NotNil(t, apiErr.Distance)
	assert.Greater(t, *apiErr.Distance, 1000.0)

	_, err = c.Claim(ctx, "Nowhere", shackLat, shackLng, 0)
	assert.ErrorIs(t, err, domain.ErrUnknownLocation)

	_, err = c.Equip(ctx, "gear_missing", true)
	assert.ErrorIs(t, err, domain.ErrGearNotFound)

	_, err = c.GetPlayer(ctx, "not-a-wallet")
	assert.ErrorIs(t, err, domain.ErrInvalidWallet)

	_, err = c.History(ctx, c.Wallet(), 10)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
}

func TestClient_WatchFeedsReplica(t *testing.T) {
	s := startStack(t)
	c := New(s.srv.URL, testKey(11), WithRateLimit(100, 10))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt := replica.New(c.Wallet(), c, logger)
	require.NoError(t, rt.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	updates := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, c.Wallet(), ready, func(rec *domain.PlayerRecord) {
			rt.Apply(rec)
			updates <- struct{}{}
		})
	}()

	select {
	case <-ready:
	case <-time.After(3 * time.Second):
		t.Fatal("subscription not confirmed")
	}

	res, err := c.Claim(context.Background(), "Freeside Shack", shackLat, shackLng, 0)
	require.NoError(t, err)

	select {
	case <-updates:
	case <-time.After(3 * time.Second):
		t.Fatal("no player update received")
	}

	stats, err := rt.Stats()
	require.NoError(t, err)
	assert.Equal(t, res.CapsFound, stats.Caps)
	assert.Equal(t, res.Rads, stats.Rads)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}
