// Package bus wraps the push/email job topics (spec §6.2) on top of
// github.com/IBM/sarama: a synchronous producer for enqueueing dispatch
// jobs and a consumer-group wrapper dispatchers use to drain their topic.
package bus

import (
	"context"

	"relaycore/internal/observability"

	"github.com/IBM/sarama"
)

// Topic names used by the notification dispatch pipeline (§4.3).
const (
	TopicPush  = "push"
	TopicEmail = "email"
)

// NewProducerConfig returns a sarama config tuned for durable job enqueueing:
// synchronous produce, leader+replica ack, up to 5 retries. The idempotent
// producer is not enabled, so a retried send can be written twice.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

// NewConsumerConfig returns a sarama config matching spec §6.2's consumer
// settings: earliest offset reset, auto-commit, 6s session / 3s heartbeat.
func NewConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Group.Session.Timeout = 6_000_000_000  // 6s, in time.Duration nanoseconds
	cfg.Consumer.Group.Heartbeat.Interval = 3_000_000_000 // 3s
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

// Producer publishes dispatch job payloads to a topic.
type Producer struct {
	sync sarama.SyncProducer
}

// NewProducer dials brokers and returns a Producer. Callers own the
// returned Producer's lifetime and must call Close.
func NewProducer(brokers []string) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, err
	}
	return &Producer{sync: sp}, nil
}

// NewProducerWithClient wraps an already-constructed sarama.SyncProducer,
// e.g. a mocks.SyncProducer in tests.
func NewProducerWithClient(sp sarama.SyncProducer) *Producer {
	return &Producer{sync: sp}
}

// Publish sends payload to topic, recording BusPublishTotal by outcome.
func (p *Producer) Publish(ctx context.Context, topic string, payload []byte) error {
	_, _, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.BusPublishTotal.WithLabelValues(topic, outcome).Inc()
	_ = ctx
	return err
}

// Close releases the underlying sarama producer.
func (p *Producer) Close() error {
	return p.sync.Close()
}
