package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/platform/config"
)

func score(v float64) *float64 { return &v }

func TestAttempt_Validate(t *testing.T) {
	good := NewAttempt("subj-1", OutcomeSuccess, "", score(0.91))
	assert.NoError(t, good.Validate())

	noSubject := NewAttempt("", OutcomeSuccess, "", nil)
	assert.Error(t, noSubject.Validate())

	badOutcome := NewAttempt("subj-1", Outcome("shrug"), "", nil)
	assert.Error(t, badOutcome.Validate())

	badScore := NewAttempt("subj-1", OutcomeFailure, "score_below_threshold", score(1.5))
	assert.Error(t, badScore.Validate())

	noID := good
	noID.ID = uuid.Nil
	assert.Error(t, noID.Validate())
}

func TestMemoryStore_AppendAndRecent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		attempt := NewAttempt("subj-1", OutcomeFailure, "score_below_threshold", score(0.5))
		require.NoError(t, store.Append(ctx, attempt))
	}
	require.NoError(t, store.Append(ctx, NewAttempt("subj-2", OutcomeSuccess, "", score(0.9))))

	recent, err := store.Recent(ctx, "subj-1", 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	all, err := store.Recent(ctx, "subj-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	other, err := store.Recent(ctx, "subj-2", 10)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryStore_RecentNewestFirst(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first := NewAttempt("subj-1", OutcomeFailure, "", nil)
	second := NewAttempt("subj-1", OutcomeSuccess, "", score(0.9))
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	recent, err := store.Recent(ctx, "subj-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, first.ID, recent[1].ID)
}

func TestMemoryStore_RecentFailures(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, NewAttempt("subj-1", OutcomeFailure, "score_below_threshold", score(0.4))))
	require.NoError(t, store.Append(ctx, NewAttempt("subj-1", OutcomeFailure, "stepup_denied", score(0.85))))
	require.NoError(t, store.Append(ctx, NewAttempt("subj-1", OutcomeSuccess, "", score(0.9))))
	require.NoError(t, store.Append(ctx, NewAttempt("subj-1", OutcomeError, "internal_error", nil)))

	stale := NewAttempt("subj-1", OutcomeFailure, "score_below_threshold", score(0.3))
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Append(ctx, stale))

	count, err := store.RecentFailures(ctx, "subj-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// flakyStore fails the first failures appends, then delegates to memory.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    *MemoryStore
}

func (s *flakyStore) Append(ctx context.Context, attempt Attempt) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("transient store error")
	}
	return s.inner.Append(ctx, attempt)
}

func (s *flakyStore) Recent(ctx context.Context, subjectID string, limit int) ([]Attempt, error) {
	return s.inner.Recent(ctx, subjectID, limit)
}

func (s *flakyStore) RecentFailures(ctx context.Context, subjectID string, window time.Duration) (int, error) {
	return s.inner.RecentFailures(ctx, subjectID, window)
}

func testRecorder(store Store) *Recorder {
	return NewRecorder(store, nil, config.Verify{LedgerAttempts: 3}, slog.New(slog.DiscardHandler))
}

func TestRecorder_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{failures: 2, inner: NewMemory()}
	recorder := testRecorder(store)

	recorder.Record(context.Background(), NewAttempt("subj-1", OutcomeSuccess, "", score(0.88)))

	assert.Equal(t, 3, store.calls)
	assert.Len(t, store.inner.All("subj-1"), 1)
}

func TestRecorder_GivesUpAfterAllRetries(t *testing.T) {
	store := &flakyStore{failures: 10, inner: NewMemory()}
	recorder := testRecorder(store)

	recorder.Record(context.Background(), NewAttempt("subj-1", OutcomeError, "internal_error", nil))

	assert.Equal(t, 3, store.calls)
	assert.Empty(t, store.inner.All("subj-1"))
}

func TestRecorder_SurvivesCancelledRequest(t *testing.T) {
	store := NewMemory()
	recorder := testRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder.Record(ctx, NewAttempt("subj-1", OutcomeTimeout, "capture_timeout", nil))

	assert.Len(t, store.All("subj-1"), 1)
}
