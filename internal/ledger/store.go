package ledger

import (
	"context"
	"time"
)

// Store persists attempts. Implementations are append-only: no update or
// delete operations exist on purpose.
type Store interface {
	Append(ctx context.Context, attempt Attempt) error
	// Recent returns up to limit attempts for a subject, newest first.
	Recent(ctx context.Context, subjectID string, limit int) ([]Attempt, error)
	// RecentFailures counts rejected attempts for a subject inside the window.
	RecentFailures(ctx context.Context, subjectID string, window time.Duration) (int, error)
}
