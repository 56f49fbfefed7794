package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification pipeline.
type Metrics struct {
	// Completed runs by terminal reason
	Runs *prometheus.CounterVec

	// Captured audio length for successful captures
	CaptureDuration prometheus.Histogram

	// Similarity scores for runs that reached scoring
	Scores prometheus.Histogram

	// Wall-clock time spent waiting on the step-up provider
	StepUpLatency prometheus.Histogram
}

// New creates a Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_verification_runs_total",
			Help: "Total completed verification runs by terminal reason",
		}, []string{"reason"}),

		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegate_capture_duration_seconds",
			Help:    "Length of captured audio for runs that produced a buffer",
			Buckets: []float64{3, 5, 8, 12, 18, 25, 30},
		}),

		Scores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegate_verification_score",
			Help:    "Similarity scores for runs that reached scoring",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21),
		}),

		StepUpLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegate_stepup_duration_seconds",
			Help:    "Wall-clock duration of step-up confirmation rounds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60},
		}),
	}
}

// IncrementRun records a completed run.
func (m *Metrics) IncrementRun(reason string) {
	if m != nil {
		m.Runs.WithLabelValues(reason).Inc()
	}
}

// ObserveCapture records the captured audio length.
func (m *Metrics) ObserveCapture(d time.Duration) {
	if m != nil {
		m.CaptureDuration.Observe(d.Seconds())
	}
}

// ObserveScore records a similarity score.
func (m *Metrics) ObserveScore(score float64) {
	if m != nil {
		m.Scores.Observe(score)
	}
}

// ObserveStepUp records one step-up round's duration.
func (m *Metrics) ObserveStepUp(d time.Duration) {
	if m != nil {
		m.StepUpLatency.Observe(d.Seconds())
	}
}
