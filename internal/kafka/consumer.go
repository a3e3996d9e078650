package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/config"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
)

// ClaimHandler processes claim submissions
type ClaimHandler interface {
	Claim(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error)
}

// Consumer consumes claim messages from Kafka. Messages are keyed by wallet
// so one wallet's claims stay ordered on a single partition.
type Consumer struct {
	config        *config.KafkaConfig
	handler       ClaimHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ClaimHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// process runs one message through the claim engine. Malformed payloads and
// rejected claims are logged and skipped. Infrastructure failures are retried
// unless the payout outcome is unknown, where a retry would only meet the
// held cooldown.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) {
	var req domain.ClaimRequest
	if err := json.Unmarshal(message.Value, &req); err != nil {
		c.logger.Warn("failed to unmarshal message",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return
	}
	if key := string(message.Key); key != "" && key != req.Wallet {
		c.logger.Warn("message key does not match wallet",
			"key", key,
			"wallet", req.Wallet,
			"offset", message.Offset,
		)
		return
	}

	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		claimCtx, cancel := context.WithTimeout(ctx, c.config.ClaimTimeout)
		result, err := c.handler.Claim(claimCtx, req)
		cancel()

		switch {
		case err == nil:
			c.logger.Info("claim processed",
				"wallet", req.Wallet,
				"location_id", req.LocationID,
				"caps", result.CapsFound,
				"persisted", result.Persisted,
			)
			return
		case domain.IsClientError(err):
			c.logger.Info("claim rejected",
				"wallet", req.Wallet,
				"location_id", req.LocationID,
				"reason", err.Error(),
			)
			return
		case errors.Is(err, domain.ErrTransferAmbiguous), attempt >= attempts:
			c.logger.Error("claim failed",
				"wallet", req.Wallet,
				"location_id", req.LocationID,
				"attempt", attempt,
				"error", err,
			)
			return
		}

		c.logger.Warn("claim failed, retrying", "wallet", req.Wallet, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryDelay):
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are marked
// after each claim completes, so a crash replays at most the claim in flight
// and the idempotency key keeps that replay from paying twice.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.process(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}
