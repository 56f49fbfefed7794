package subject

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory reference store for tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	refs map[string]Reference
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{refs: make(map[string]Reference)}
}

func (s *MemoryStore) Find(_ context.Context, subjectID string) (Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.refs[subjectID]
	if !ok {
		return Reference{}, ErrNotFound
	}
	return ref, nil
}

func (s *MemoryStore) Upsert(_ context.Context, ref Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref.SubjectID] = ref
	return nil
}
