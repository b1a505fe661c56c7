package repository

import (
	"context"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
)

// Topics names the outbound event streams.
type Topics struct {
	Signals   string
	Positions string
	Risk      string
}

// MessageProducer is the subset of the Kafka producer the publisher needs.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher publishes engine events keyed by symbol, so each symbol keeps its order
// within a partition.
type KafkaEventPublisher struct {
	producer MessageProducer
	topics   Topics
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer MessageProducer, topics Topics) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topics: topics}
}

func (p *KafkaEventPublisher) PublishSignal(ctx context.Context, s models.Signal) error {
	return p.producer.Publish(ctx, p.topics.Signals, []byte(s.Symbol), s)
}

func (p *KafkaEventPublisher) PublishPosition(ctx context.Context, rec models.TradeRecord) error {
	return p.producer.Publish(ctx, p.topics.Positions, []byte(rec.Symbol), rec)
}

func (p *KafkaEventPublisher) PublishRisk(ctx context.Context, snap models.RiskSnapshot) error {
	return p.producer.Publish(ctx, p.topics.Risk, []byte("risk"), snap)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
