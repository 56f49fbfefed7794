// Package ledger is the append-only record of verification attempts. Every
// completed run writes exactly one attempt; rows are never updated or deleted.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a verification run ended.
type Outcome string

const (
	// OutcomeSuccess means the caller was verified.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the caller was rejected on evidence.
	OutcomeFailure Outcome = "failure"
	// OutcomeError means the run could not produce a decision.
	OutcomeError Outcome = "error"
	// OutcomeTimeout means a stage deadline expired before a decision.
	OutcomeTimeout Outcome = "timeout"
)

// Attempt is one immutable ledger row.
type Attempt struct {
	ID        uuid.UUID
	SubjectID string
	Outcome   Outcome
	Reason    string
	Score     *float64 // nil when scoring never ran
	CreatedAt time.Time
}

// NewAttempt stamps identity and creation time on a ledger row.
func NewAttempt(subjectID string, outcome Outcome, reason string, score *float64) Attempt {
	return Attempt{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Outcome:   outcome,
		Reason:    reason,
		Score:     score,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate enforces ledger row invariants before persistence.
func (a Attempt) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("attempt id is required")
	}
	if a.SubjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	switch a.Outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomeError, OutcomeTimeout:
	default:
		return fmt.Errorf("unknown outcome %q", a.Outcome)
	}
	if a.Score != nil && (*a.Score < 0 || *a.Score > 1) {
		return fmt.Errorf("score %v outside [0, 1]", *a.Score)
	}
	return nil
}
