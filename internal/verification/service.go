package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"voicegate/internal/capture"
	"voicegate/internal/descriptor"
	"voicegate/internal/ledger"
	"voicegate/internal/lockout"
	"voicegate/internal/platform/postgres"
	"voicegate/internal/stepup"
	"voicegate/internal/subject"
	"voicegate/internal/verification/metrics"
)

var tracer = otel.Tracer("voicegate/internal/verification")

// Dialer opens the caller's audio stream.
type Dialer interface {
	Dial(ctx context.Context, listenURL string) (capture.FrameSource, error)
}

// StreamDialer is the production websocket dialer.
type StreamDialer struct {
	HandshakeTimeout time.Duration
}

func (d StreamDialer) Dial(ctx context.Context, listenURL string) (capture.FrameSource, error) {
	return capture.DialStream(ctx, listenURL, d.HandshakeTimeout)
}

// Confirmer runs the out-of-band second factor.
type Confirmer interface {
	Confirm(ctx context.Context, subjectID string) (stepup.Outcome, error)
}

// Gate admits runs while the record store has capacity. Saturation is
// surfaced to the caller as "try later", never as an authentication failure.
type Gate interface {
	Acquire(ctx context.Context) (func(), error)
}

// Config holds the orchestrator's own knobs; stage-level policy lives with
// each stage.
type Config struct {
	Capture        capture.Config
	Threshold      float64
	ScoringTimeout time.Duration
}

// Service drives the pipeline: Capturing, Scoring, then either Rejected or
// StepUp. Stages run strictly in order; there is no intra-run concurrency.
type Service struct {
	dialer    Dialer
	generator descriptor.Generator
	subjects  subject.Store
	stepper   Confirmer
	recorder  *ledger.Recorder
	cfg       Config

	gate     Gate
	failures *lockout.Tracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithGate installs a capacity gate checked before each run.
func WithGate(gate Gate) Option {
	return func(s *Service) { s.gate = gate }
}

// WithLockout installs the failure tracker fed by rejected runs.
func WithLockout(tracker *lockout.Tracker) Option {
	return func(s *Service) { s.failures = tracker }
}

// WithMetrics installs pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the orchestrator.
func New(dialer Dialer, generator descriptor.Generator, subjects subject.Store, stepper Confirmer, recorder *ledger.Recorder, cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if dialer == nil || generator == nil || subjects == nil || stepper == nil || recorder == nil {
		return nil, fmt.Errorf("all pipeline collaborators are required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside (0, 1]", cfg.Threshold)
	}
	if cfg.ScoringTimeout <= 0 {
		cfg.ScoringTimeout = 10 * time.Second
	}
	s := &Service{
		dialer:    dialer,
		generator: generator,
		subjects:  subjects,
		stepper:   stepper,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Verify runs one verification round. The returned error is non-nil only when
// the run was cancelled or could not be admitted; in every other case the
// Result carries a definite terminal reason. Exactly one ledger row is written
// per admitted run, whatever happens inside the pipeline.
func (s *Service) Verify(ctx context.Context, subjectID, listenURL string) (Result, error) {
	if subjectID == "" {
		return Result{}, fmt.Errorf("subject id is required")
	}
	if listenURL == "" {
		return Result{}, fmt.Errorf("listen url is required")
	}

	if s.gate != nil {
		release, err := s.gate.Acquire(ctx)
		if err != nil {
			if errors.Is(err, postgres.ErrSaturated) {
				result := failure(ReasonCapacityExceeded)
				s.conclude(ctx, subjectID, result, time.Now())
				return result, nil
			}
			return Result{}, err
		}
		defer release()
	}

	return s.run(ctx, subjectID, listenURL)
}

func (s *Service) run(ctx context.Context, subjectID, listenURL string) (result Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "verification.run",
		trace.WithAttributes(attribute.String("subject.id", subjectID)))
	defer span.End()

	// The single write for this run. Deferred so that early failures and
	// panics still leave their row; panics re-raise after the write.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("verification run panicked", "subject_id", subjectID, "panic", r)
			result = failure(ReasonInternalError)
			s.conclude(ctx, subjectID, result, start)
			panic(r)
		}
		span.SetAttributes(attribute.String("verification.reason", string(result.Reason)))
		s.conclude(ctx, subjectID, result, start)
	}()

	result, err = s.pipeline(ctx, subjectID, listenURL)
	return result, err
}

func (s *Service) pipeline(ctx context.Context, subjectID, listenURL string) (Result, error) {
	buf, reason, err := s.captureStage(ctx, listenURL)
	if err != nil {
		return failure(ReasonInternalError), err
	}
	if reason != ReasonNone {
		s.logger.Info("capture rejected", "subject_id", subjectID, "reason", reason)
		return failure(reason), nil
	}
	s.metrics.ObserveCapture(buf.Duration())

	score, reason, err := s.scoringStage(ctx, subjectID, buf)
	if err != nil {
		return failure(ReasonInternalError), err
	}
	if reason == ReasonSubjectNotEnrolled || reason == ReasonDescriptorFailed || reason == ReasonInternalError {
		return failure(reason), nil
	}

	result := Result{Score: &score}
	if reason == ReasonScoreBelowThreshold {
		result.Reason = ReasonScoreBelowThreshold
		return result, nil
	}

	outcome, err := s.stepUpStage(ctx, subjectID)
	if err != nil {
		result.Reason = ReasonInternalError
		return result, err
	}
	switch outcome {
	case stepup.OutcomeApproved:
		result.Success = true
		result.Reason = ReasonNone
	case stepup.OutcomeDenied:
		result.Reason = ReasonStepUpDenied
	case stepup.OutcomeTimedOut:
		result.Reason = ReasonStepUpTimedOut
	case stepup.OutcomeDispatchFailed:
		result.Reason = ReasonStepUpDispatchFailed
	default:
		result.Reason = ReasonInternalError
	}
	return result, nil
}

// captureStage dials the stream and collects the buffer. A ReasonNone return
// means the buffer is usable.
func (s *Service) captureStage(ctx context.Context, listenURL string) (capture.Buffer, Reason, error) {
	ctx, span := tracer.Start(ctx, "verification.capture")
	defer span.End()

	src, err := s.dialer.Dial(ctx, listenURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return capture.Buffer{}, ReasonInternalError, ctxErr
		}
		return capture.Buffer{}, classifyCapture(err), nil
	}

	buf, err := capture.Capture(ctx, src, s.cfg.Capture)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return capture.Buffer{}, ReasonInternalError, err
		}
		return capture.Buffer{}, classifyCapture(err), nil
	}
	span.SetAttributes(attribute.Float64("capture.seconds", buf.Duration().Seconds()))
	return buf, ReasonNone, nil
}

// scoringStage generates the live descriptor and compares it with the
// enrolled reference. A ReasonNone return means the score met the threshold.
func (s *Service) scoringStage(ctx context.Context, subjectID string, buf capture.Buffer) (float64, Reason, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScoringTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "verification.score")
	defer span.End()

	live, err := s.generator.Generate(ctx, buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return 0, ReasonInternalError, ctxErr
		}
		s.logger.Warn("descriptor generation failed", "subject_id", subjectID, "error", err)
		return 0, ReasonDescriptorFailed, nil
	}

	ref, err := s.subjects.Find(ctx, subjectID)
	if err != nil {
		if errors.Is(err, subject.ErrNotFound) {
			return 0, ReasonSubjectNotEnrolled, nil
		}
		s.logger.Error("reference lookup failed", "subject_id", subjectID, "error", err)
		return 0, ReasonInternalError, nil
	}

	score, err := descriptor.Score(live, ref.Descriptor)
	if err != nil {
		s.logger.Warn("scoring failed", "subject_id", subjectID, "error", err)
		return 0, ReasonDescriptorFailed, nil
	}
	span.SetAttributes(attribute.Float64("verification.score", score))
	s.metrics.ObserveScore(score)

	if !descriptor.Match(score, s.cfg.Threshold) {
		return score, ReasonScoreBelowThreshold, nil
	}
	return score, ReasonNone, nil
}

func (s *Service) stepUpStage(ctx context.Context, subjectID string) (stepup.Outcome, error) {
	ctx, span := tracer.Start(ctx, "verification.stepup")
	defer span.End()

	start := time.Now()
	outcome, err := s.stepper.Confirm(ctx, subjectID)
	s.metrics.ObserveStepUp(time.Since(start))
	if err == nil {
		span.SetAttributes(attribute.String("stepup.outcome", string(outcome)))
	}
	return outcome, err
}

// conclude performs the per-run bookkeeping: the ledger row, the failure
// counter, and metrics. Called exactly once per admitted run.
func (s *Service) conclude(ctx context.Context, subjectID string, result Result, start time.Time) {
	s.metrics.IncrementRun(string(result.Reason))

	reason := ""
	if result.Reason != ReasonNone {
		reason = string(result.Reason)
	}
	attempt := ledger.NewAttempt(subjectID, result.Reason.Outcome(), reason, result.Score)
	s.recorder.Record(ctx, attempt)

	if result.Reason.Rejection() && s.failures != nil {
		s.failures.RecordFailure(context.WithoutCancel(ctx), subjectID)
	}

	s.logger.Info("verification run complete",
		"subject_id", subjectID,
		"outcome", attempt.Outcome,
		"reason", result.Reason,
		"duration", time.Since(start),
	)
}

func classifyCapture(err error) Reason {
	switch {
	case errors.Is(err, capture.ErrTimeout):
		return ReasonCaptureTimeout
	case errors.Is(err, capture.ErrIncomplete):
		return ReasonCaptureIncomplete
	case errors.Is(err, capture.ErrProtocol):
		return ReasonCaptureProtocol
	default:
		return ReasonInternalError
	}
}
