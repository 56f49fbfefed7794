package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory attempt store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string][]Attempt // subjectID -> attempts, append order
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{attempts: make(map[string][]Attempt)}
}

func (s *MemoryStore) Append(_ context.Context, attempt Attempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.SubjectID] = append(s.attempts[attempt.SubjectID], attempt)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, subjectID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.attempts[subjectID]
	out := make([]Attempt, 0, limit)
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (s *MemoryStore) RecentFailures(_ context.Context, subjectID string, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, attempt := range s.attempts[subjectID] {
		if attempt.Outcome == OutcomeFailure && attempt.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// All returns every attempt for a subject in append order. Test helper.
func (s *MemoryStore) All(subjectID string) []Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Attempt, len(s.attempts[subjectID]))
	copy(out, s.attempts[subjectID])
	return out
}
