package ledger

import (
	"context"
	"encoding/json"
	"time"

	"voicegate/internal/platform/kafka"
)

// Publisher mirrors appended attempts onto the event stream. Best effort:
// the ledger row is the source of truth, the stream is for consumers.
type Publisher struct {
	producer *kafka.Producer
	topic    string
}

// NewPublisher wraps a producer. A nil producer yields a no-op publisher.
func NewPublisher(producer *kafka.Producer, topic string) *Publisher {
	if producer == nil {
		return nil
	}
	return &Publisher{producer: producer, topic: topic}
}

type attemptEvent struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Publish emits one attempt event keyed by subject so per-subject ordering
// holds within a partition.
func (p *Publisher) Publish(ctx context.Context, attempt Attempt) {
	if p == nil {
		return
	}
	value, err := json.Marshal(attemptEvent{
		ID:        attempt.ID.String(),
		SubjectID: attempt.SubjectID,
		Outcome:   string(attempt.Outcome),
		Reason:    attempt.Reason,
		Score:     attempt.Score,
		CreatedAt: attempt.CreatedAt,
	})
	if err != nil {
		return
	}
	p.producer.Produce(ctx, p.topic, []byte(attempt.SubjectID), value)
}
