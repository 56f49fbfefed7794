package ledger

import (
	"context"
	"log/slog"
	"time"

	"voicegate/internal/platform/config"
)

// Recorder writes ledger rows with its own timeout and retry policy, detached
// from the lifetime of the request that produced them. A cancelled or panicked
// verification run must still leave its row behind.
type Recorder struct {
	store     Store
	publisher *Publisher
	timeout   time.Duration
	attempts  int
	logger    *slog.Logger
}

// NewRecorder constructs a recorder. publisher may be nil.
func NewRecorder(store Store, publisher *Publisher, cfg config.Verify, logger *slog.Logger) *Recorder {
	timeout := cfg.LedgerTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	attempts := cfg.LedgerAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Recorder{
		store:     store,
		publisher: publisher,
		timeout:   timeout,
		attempts:  attempts,
		logger:    logger,
	}
}

// Record appends one attempt, retrying transient store failures. It never
// returns an error: a ledger write failure after all retries is logged and
// swallowed so the caller's response path is not coupled to ledger health.
func (r *Recorder) Record(ctx context.Context, attempt Attempt) {
	// Detach from request cancellation; the write must survive the caller.
	ctx = context.WithoutCancel(ctx)

	var lastErr error
	for try := 1; try <= r.attempts; try++ {
		writeCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.store.Append(writeCtx, attempt)
		cancel()
		if err == nil {
			r.publisher.Publish(ctx, attempt)
			return
		}
		lastErr = err

		if try < r.attempts {
			backoff := time.Duration(1<<(try-1)) * 100 * time.Millisecond
			time.Sleep(backoff)
		}
	}

	r.logger.Error("ledger write failed after retries",
		"attempt_id", attempt.ID,
		"subject_id", attempt.SubjectID,
		"outcome", attempt.Outcome,
		"tries", r.attempts,
		"error", lastErr,
	)
}
