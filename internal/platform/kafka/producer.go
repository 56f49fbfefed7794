package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"voicegate/internal/platform/config"
)

// Producer is a thin wrapper over the franz-go client used for fire-and-forget
// publishing of domain events. Delivery failures are logged, never propagated:
// the event stream is an observability surface, not a source of truth.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer connects to the configured brokers. Returns nil if no brokers
// are configured (Kafka disabled).
func NewProducer(cfg config.Kafka, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger}, nil
}

// EnsureTopic creates the topic if it does not exist yet. Idempotent.
func (p *Producer) EnsureTopic(ctx context.Context, topic string, partitions int) error {
	if p == nil {
		return nil
	}
	adm := kadm.NewClient(p.client)

	existing, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if existing.Has(topic) {
		return nil
	}

	if partitions <= 0 {
		partitions = 1
	}
	if _, err := adm.CreateTopic(ctx, int32(partitions), 1, nil, topic); err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}

// Produce publishes asynchronously. The promise only logs failures.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) {
	if p == nil {
		return
	}
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("kafka produce failed",
				"topic", r.Topic,
				"key", string(r.Key),
				"error", err,
			)
		}
	})
}

// Close flushes pending records and closes the client.
func (p *Producer) Close() {
	if p == nil {
		return
	}
	p.client.Flush(context.Background())
	p.client.Close()
}
