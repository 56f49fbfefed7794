// Package descriptor turns captured audio into fixed-length speaker vectors
// and scores them against stored references. The vector itself comes from an
// external embedding model; this package owns validation, the client to that
// model, and the similarity decision.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"voicegate/internal/capture"
)

// Dim is the fixed descriptor length produced by the speaker model.
const Dim = 192

var (
	// ErrTooShort: the buffer is below the minimum usable duration.
	ErrTooShort = errors.New("audio too short for descriptor generation")
	// ErrModel: the model invocation failed or returned an unusable vector.
	ErrModel = errors.New("descriptor generation failed")
	// ErrVersionMismatch: descriptors from different model versions are
	// never comparable.
	ErrVersionMismatch = errors.New("descriptor model versions differ")
)

// MinUsableDuration is the shortest buffer the model accepts.
const MinUsableDuration = 500 * time.Millisecond

// Descriptor is an immutable fixed-length voice vector tagged with the model
// version that produced it.
type Descriptor struct {
	Values  []float64
	Version string
}

// Validate checks shape and numeric sanity.
func (d Descriptor) Validate() error {
	if len(d.Values) != Dim {
		return fmt.Errorf("%w: got %d values, want %d", ErrModel, len(d.Values), Dim)
	}
	allZero := true
	for _, v := range d.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value in descriptor", ErrModel)
		}
		if v != 0 {
			allZero = false
		}
	}
	if allZero {
		return fmt.Errorf("%w: zero descriptor", ErrModel)
	}
	return nil
}

// Generator produces a descriptor from a frozen audio buffer. Implementations
// must be safe for concurrent use; model state is initialized once and
// read-only afterwards.
type Generator interface {
	Generate(ctx context.Context, buf capture.Buffer) (Descriptor, error)
}
