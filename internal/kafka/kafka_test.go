package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedHandler struct {
	mu    sync.Mutex
	errs  []error
	calls []domain.ClaimRequest
}

func (s *scriptedHandler) Claim(_ context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.ClaimResult{Success: true, CapsFound: 10, Persisted: true}, nil
}

func newTestConsumer(h ClaimHandler) *Consumer {
	return &Consumer{
		config: &config.KafkaConfig{
			ClaimTimeout:  time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
		},
		handler: h,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func claimMessage(t *testing.T, key string, req domain.ClaimRequest) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Key: []byte(key), Value: data}
}

func TestProcess_SubmitsClaim(t *testing.T) {
	h := &scriptedHandler{}
	c := newTestConsumer(h)

	lat, lng := 36.1727, -115.1426
	c.process(context.Background(), claimMessage(t, "wallet1", domain.ClaimRequest{
		Wallet: "wallet1", LocationID: "Freeside Shack", Lat: &lat, Lng: &lng,
	}))

	require.Len(t, h.calls, 1)
	assert.Equal(t, "Freeside Shack", h.calls[0].LocationID)
}

func TestProcess_SkipsBadMessages(t *testing.T) {
	h := &scriptedHandler{}
	c := newTestConsumer(h)

	c.process(context.Background(), &sarama.ConsumerMessage{Value: []byte("{oops")})
	c.process(context.Background(), claimMessage(t, "someone-else", domain.ClaimRequest{Wallet: "wallet1"}))
	assert.Empty(t, h.calls)
}

func TestProcess_Retries(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
	}{
		{"rejected claim is not retried", []error{domain.ErrCooldown}, 1},
		{"ambiguous payout is not retried", []error{fmt.Errorf("%w: timeout", domain.ErrTransferAmbiguous)}, 1},
		{"store outage is retried", []error{errors.New("reserving cooldown: EOF"), nil}, 2},
		{"retries are bounded", []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &scriptedHandler{errs: tt.errs}
			c := newTestConsumer(h)
			c.process(context.Background(), claimMessage(t, "", domain.ClaimRequest{Wallet: "wallet1"}))
			assert.Len(t, h.calls, tt.wantCalls)
		})
	}
}

func TestProducer_KeysByWallet(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var req domain.ClaimRequest
		if err := json.Unmarshal(val, &req); err != nil {
			return err
		}
		if req.Wallet != "wallet1" || req.LocationID != "Lucky 38" {
			return fmt.Errorf("unexpected claim %+v", req)
		}
		return nil
	})

	p := NewProducer(mp, "claims")
	require.NoError(t, p.PublishClaim(domain.ClaimRequest{Wallet: "wallet1", LocationID: "Lucky 38"}))
	require.NoError(t, p.Close())
}
