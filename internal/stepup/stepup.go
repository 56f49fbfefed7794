// Package stepup coordinates the out-of-band second factor: dispatch a push
// approval request, then poll for its resolution under a hard wall-clock
// deadline. The coordinator never retries a resolved outcome; retry exists
// only inside dispatch.
package stepup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Verdict is a single poll result from the provider.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictDenied   Verdict = "denied"
	VerdictPending  Verdict = "pending"
)

// Outcome is the terminal state of one step-up round.
// Dispatched → Polling → {Approved, Denied, TimedOut, DispatchFailed}.
type Outcome string

const (
	OutcomeApproved       Outcome = "approved"
	OutcomeDenied         Outcome = "denied"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// Provider is the external push-approval service.
type Provider interface {
	// Dispatch sends the approval request and returns its correlation ID.
	Dispatch(ctx context.Context, subjectID string) (string, error)
	// Poll reports the current verdict for a dispatched request.
	Poll(ctx context.Context, requestID string) (Verdict, error)
}

// Config bounds dispatch retries and the polling loop.
type Config struct {
	DispatchAttempts int           // total attempts, linear backoff between them
	DispatchBackoff  time.Duration // backoff unit: attempt n waits n*backoff
	PollInterval     time.Duration
	PollTimeout      time.Duration // per poll call
	Deadline         time.Duration // wall clock, measured from dispatch
}

// DefaultConfig returns the production polling policy.
func DefaultConfig() Config {
	return Config{
		DispatchAttempts: 2,
		DispatchBackoff:  time.Second,
		PollInterval:     2500 * time.Millisecond,
		PollTimeout:      5 * time.Second,
		Deadline:         60 * time.Second,
	}
}

// Coordinator drives one step-up round per call. Safe for concurrent use.
type Coordinator struct {
	provider Provider
	cfg      Config
	logger   *slog.Logger
}

// New constructs a coordinator.
func New(provider Provider, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.DispatchAttempts <= 0 {
		cfg.DispatchAttempts = DefaultConfig().DispatchAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultConfig().Deadline
	}
	return &Coordinator{provider: provider, cfg: cfg, logger: logger}, nil
}

// Confirm runs dispatch plus polling and returns the terminal outcome. The
// returned error is non-nil only when the enclosing run was cancelled; in that
// case polling stops promptly and no further provider calls are made.
func (c *Coordinator) Confirm(ctx context.Context, subjectID string) (Outcome, error) {
	requestID, err := c.dispatch(ctx, subjectID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		c.logger.Warn("step-up dispatch failed", "subject_id", subjectID, "error", err)
		return OutcomeDispatchFailed, nil
	}

	deadline := time.NewTimer(c.cfg.Deadline)
	defer deadline.Stop()

	for {
		verdict, err := c.pollOnce(ctx, requestID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		switch {
		case err != nil:
			// Transient poll failures count as pending; the deadline
			// still bounds the loop.
			c.logger.Warn("step-up poll failed", "request_id", requestID, "error", err)
		case verdict == VerdictApproved:
			return OutcomeApproved, nil
		case verdict == VerdictDenied:
			return OutcomeDenied, nil
		}

		interval := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			interval.Stop()
			return "", ctx.Err()
		case <-deadline.C:
			interval.Stop()
			return OutcomeTimedOut, nil
		case <-interval.C:
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, subjectID string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.DispatchAttempts; attempt++ {
		requestID, err := c.provider.Dispatch(ctx, subjectID)
		if err == nil {
			return requestID, nil
		}
		lastErr = err

		if attempt == c.cfg.DispatchAttempts {
			break
		}
		backoff := time.Duration(attempt) * c.cfg.DispatchBackoff
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", fmt.Errorf("dispatch after %d attempts: %w", c.cfg.DispatchAttempts, lastErr)
}

func (c *Coordinator) pollOnce(ctx context.Context, requestID string) (Verdict, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()
	return c.provider.Poll(pollCtx, requestID)
}
