// Package subject holds enrolled voice references: one stored descriptor per
// subject, replaced wholesale on re-enrollment.
package subject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicegate/internal/descriptor"
)

// ErrNotFound is returned when a subject has no enrolled reference.
var ErrNotFound = errors.New("subject not enrolled")

// Reference is a subject's enrolled descriptor.
type Reference struct {
	SubjectID  string
	Descriptor descriptor.Descriptor
	EnrolledAt time.Time
}

// Validate enforces reference invariants before persistence.
func (r Reference) Validate() error {
	if r.SubjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	if err := r.Descriptor.Validate(); err != nil {
		return fmt.Errorf("reference descriptor: %w", err)
	}
	return nil
}

// Store persists references.
type Store interface {
	// Find returns the enrolled reference or ErrNotFound.
	Find(ctx context.Context, subjectID string) (Reference, error)
	// Upsert inserts or replaces the reference for a subject.
	Upsert(ctx context.Context, ref Reference) error
}
