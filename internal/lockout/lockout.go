// Package lockout blocks new verification runs for subjects that have failed
// too often inside a sliding window. The attempt ledger is the durable record;
// Redis, when configured, serves the count without touching the database.
package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"voicegate/internal/platform/config"
	"voicegate/internal/platform/redis"
)

// FailureCounter is the ledger-backed count used when Redis is absent or
// unhealthy.
type FailureCounter interface {
	RecentFailures(ctx context.Context, subjectID string, window time.Duration) (int, error)
}

// Tracker answers "is this subject locked out right now". Counter errors fail
// open: a broken counter must never block legitimate callers, only ever allow
// extra attempts.
type Tracker struct {
	client *redis.Client
	ledger FailureCounter
	limit  int
	window time.Duration
	logger *slog.Logger
}

// New constructs a tracker. client may be nil; counts then come from the
// ledger alone.
func New(client *redis.Client, ledger FailureCounter, cfg config.Verify, logger *slog.Logger) *Tracker {
	limit := cfg.LockoutLimit
	if limit <= 0 {
		limit = 5
	}
	window := cfg.LockoutWindow
	if window <= 0 {
		window = time.Hour
	}
	return &Tracker{
		client: client,
		ledger: ledger,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// RecordFailure registers one rejected verification in the Redis fast path.
// The ledger row written by the orchestrator is the durable record, so a nil
// client or a write error loses nothing.
func (t *Tracker) RecordFailure(ctx context.Context, subjectID string) {
	if t.client == nil {
		return
	}
	now := time.Now()
	key := t.key(subjectID)
	pipe := t.client.Pipeline()
	pipe.ZAdd(ctx, key, goredis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-t.window).UnixNano(), 10))
	pipe.Expire(ctx, key, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("lockout counter write failed", "subject_id", subjectID, "error", err)
	}
}

// Locked reports whether the subject has reached the failure limit inside the
// window.
func (t *Tracker) Locked(ctx context.Context, subjectID string) bool {
	return t.Failures(ctx, subjectID) >= t.limit
}

// Failures returns the current in-window failure count. Redis first, ledger
// second, zero when both are unavailable.
func (t *Tracker) Failures(ctx context.Context, subjectID string) int {
	if t.client != nil {
		count, err := t.redisCount(ctx, subjectID)
		if err == nil {
			return count
		}
		t.logger.Warn("lockout counter read failed", "subject_id", subjectID, "error", err)
	}

	if t.ledger == nil {
		return 0
	}
	count, err := t.ledger.RecentFailures(ctx, subjectID, t.window)
	if err != nil {
		t.logger.Warn("lockout ledger count failed", "subject_id", subjectID, "error", err)
		return 0
	}
	return count
}

func (t *Tracker) redisCount(ctx context.Context, subjectID string) (int, error) {
	now := time.Now()
	key := t.key(subjectID)
	if err := t.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-t.window).UnixNano(), 10)).Err(); err != nil {
		return 0, err
	}
	count, err := t.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (t *Tracker) key(subjectID string) string {
	return fmt.Sprintf("lockout:%s", subjectID)
}
