package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/ledger"
	"voicegate/internal/platform/config"
)

func testTracker(store FailureCounter, limit int, window time.Duration) *Tracker {
	cfg := config.Verify{LockoutLimit: limit, LockoutWindow: window}
	return New(nil, store, cfg, slog.New(slog.DiscardHandler))
}

func recordFailure(t *testing.T, store *ledger.MemoryStore, subjectID string, age time.Duration) {
	t.Helper()
	score := 0.4
	attempt := ledger.NewAttempt(subjectID, ledger.OutcomeFailure, "score_below_threshold", &score)
	attempt.CreatedAt = time.Now().UTC().Add(-age)
	require.NoError(t, store.Append(context.Background(), attempt))
}

func TestTracker_LocksAtLimit(t *testing.T) {
	store := ledger.NewMemory()
	tracker := testTracker(store, 3, time.Hour)
	ctx := context.Background()

	recordFailure(t, store, "subj-1", 0)
	recordFailure(t, store, "subj-1", 0)
	assert.False(t, tracker.Locked(ctx, "subj-1"))

	recordFailure(t, store, "subj-1", 0)
	assert.True(t, tracker.Locked(ctx, "subj-1"))
}

func TestTracker_SubjectsAreIndependent(t *testing.T) {
	store := ledger.NewMemory()
	tracker := testTracker(store, 1, time.Hour)
	ctx := context.Background()

	recordFailure(t, store, "subj-1", 0)
	assert.True(t, tracker.Locked(ctx, "subj-1"))
	assert.False(t, tracker.Locked(ctx, "subj-2"))
}

func TestTracker_OldFailuresFallOutOfWindow(t *testing.T) {
	store := ledger.NewMemory()
	tracker := testTracker(store, 2, time.Hour)
	ctx := context.Background()

	recordFailure(t, store, "subj-1", 2*time.Hour)
	recordFailure(t, store, "subj-1", 0)
	assert.False(t, tracker.Locked(ctx, "subj-1"))
	assert.Equal(t, 1, tracker.Failures(ctx, "subj-1"))
}

type brokenCounter struct{}

func (brokenCounter) RecentFailures(context.Context, string, time.Duration) (int, error) {
	return 0, fmt.Errorf("counter unavailable")
}

func TestTracker_FailsOpenOnCounterError(t *testing.T) {
	tracker := testTracker(brokenCounter{}, 1, time.Hour)
	assert.False(t, tracker.Locked(context.Background(), "subj-1"))
}

func TestTracker_NoCounterNeverLocks(t *testing.T) {
	tracker := testTracker(nil, 1, time.Hour)
	assert.False(t, tracker.Locked(context.Background(), "subj-1"))
}
