package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaPublisher sends events through a synchronous producer. The message key
// is set by the Emitter (call id) so events for one call stay ordered.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaConfig returns the producer settings used for routing events.
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: producer}, nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(p sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.PublishKeyed(ctx, topic, "", payload)
}

func (p *KafkaPublisher) PublishKeyed(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
