package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
)

// Producer publishes claim requests onto the claims topic
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSyncProducer dials the brokers with settings suited to claim traffic
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return sarama.NewSyncProducer(brokers, cfg)
}

// NewProducer wraps a sync producer
func NewProducer(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic}
}

// PublishClaim sends a claim keyed by its wallet
func (p *Producer) PublishClaim(req domain.ClaimRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(req.Wallet),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish claim: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
