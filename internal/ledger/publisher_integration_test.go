//go:build integration

package ledger_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"voicegate/internal/ledger"
	"voicegate/internal/platform/config"
	"voicegate/internal/platform/kafka"
	"voicegate/pkg/testutil/containers"
)

func TestPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	broker := containers.NewRedpandaContainer(t)

	const topic = "voicegate.attempts.test"
	producer, err := kafka.NewProducer(config.Kafka{Brokers: []string{broker.Broker}}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NotNil(t, producer)

	require.NoError(t, producer.EnsureTopic(ctx, topic, 1))

	publisher := ledger.NewPublisher(producer, topic)
	score := 0.91
	attempt := ledger.NewAttempt("subj-1", ledger.OutcomeSuccess, "", &score)
	publisher.Publish(ctx, attempt)
	producer.Close() // flush before consuming

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "subj-1", string(records[0].Key))

	var event map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &event))
	assert.Equal(t, attempt.ID.String(), event["id"])
	assert.Equal(t, "success", event["outcome"])
	assert.InDelta(t, score, event["score"].(float64), 1e-9)
}
