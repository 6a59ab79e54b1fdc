package bus

import (
	"context"
	"log/slog"

	"relaycore/internal/observability"

	"github.com/IBM/sarama"
)

// JobHandler processes one decoded job payload. A non-nil error is logged
// by the consumer loop; it does not stop consumption (§7: dispatchers log
// and continue on transport/data errors).
type JobHandler func(ctx context.Context, payload []byte) error

// Consumer drains one topic as a named consumer group (§4.3: one actor task
// per consumer, sequential per consumer, parallel across consumers/partitions).
type Consumer struct {
	group sarama.ConsumerGroup
	topic string
	fn    JobHandler
}

// NewConsumer joins groupID on topic using brokers.
func NewConsumer(brokers []string, groupID, topic string, fn JobHandler) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewConsumerConfig())
	if err != nil {
		return nil, err
	}
	return &Consumer{group: group, topic: topic, fn: fn}, nil
}

// Run joins the consumer group and processes claims until ctx is cancelled
// or the group errors out fatally. Intended to be run in its own goroutine.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			slog.Default().Error("bus: consumer group error", "topic", c.topic, "error", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler: jobs from one
// partition are processed strictly in order, one at a time.
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx := sess.Context()
		outcome := "ok"
		if err := c.fn(ctx, msg.Value); err != nil {
			outcome = "error"
			slog.Default().Error("bus: job handler failed", "topic", c.topic, "error", err)
		}
		observability.BusConsumeTotal.WithLabelValues(c.topic, outcome).Inc()
		sess.MarkMessage(msg, "")
	}
	return nil
}
