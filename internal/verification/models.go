// Package verification orchestrates a live caller check end to end: capture
// audio from the caller's stream, score it against the enrolled reference, and
// on a positive match require an out-of-band approval before reporting
// success. Every run, however it ends, leaves exactly one row in the attempt
// ledger.
package verification

import (
	"voicegate/internal/ledger"
)

// Reason is the terminal classification of a run. ReasonNone means the caller
// was verified.
type Reason string

const (
	ReasonNone                 Reason = "none"
	ReasonCaptureTimeout       Reason = "capture_timeout"
	ReasonCaptureIncomplete    Reason = "capture_incomplete"
	ReasonCaptureProtocol      Reason = "capture_protocol"
	ReasonDescriptorFailed     Reason = "descriptor_failed"
	ReasonSubjectNotEnrolled   Reason = "subject_not_enrolled"
	ReasonScoreBelowThreshold  Reason = "score_below_threshold"
	ReasonStepUpDispatchFailed Reason = "stepup_dispatch_failed"
	ReasonStepUpTimedOut       Reason = "stepup_timed_out"
	ReasonStepUpDenied         Reason = "stepup_denied"
	ReasonCapacityExceeded     Reason = "capacity_exceeded"
	ReasonInternalError        Reason = "internal_error"
)

// Outcome maps a reason onto the ledger outcome taxonomy.
func (r Reason) Outcome() ledger.Outcome {
	switch r {
	case ReasonNone:
		return ledger.OutcomeSuccess
	case ReasonSubjectNotEnrolled, ReasonScoreBelowThreshold, ReasonStepUpDenied:
		return ledger.OutcomeFailure
	case ReasonCaptureTimeout, ReasonStepUpTimedOut:
		return ledger.OutcomeTimeout
	default:
		return ledger.OutcomeError
	}
}

// Rejection reports whether the reason represents the caller being actively
// rejected, which is what the lockout counter tracks. Infrastructure trouble
// never counts against the caller.
func (r Reason) Rejection() bool {
	switch r {
	case ReasonScoreBelowThreshold, ReasonStepUpDenied, ReasonSubjectNotEnrolled:
		return true
	default:
		return false
	}
}

// Result is the definite terminal state of one verification run.
type Result struct {
	Success bool
	Reason  Reason
	Score   *float64 // set once scoring ran, kept on failures for the ledger
}

func failure(reason Reason) Result {
	return Result{Success: false, Reason: reason}
}
