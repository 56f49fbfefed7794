package descriptor

import (
	"fmt"
	"math"
)

// Score computes the similarity between two descriptors as raw cosine
// similarity clamped to [0,1]. Convention: reference vectors from the speaker
// model are compared on raw cosine (the decision threshold, default 0.82, is
// calibrated against it); negative cosine carries no extra information for a
// non-match, so it clamps to 0 and the persisted score stays within [0,1].
//
// Pure computation: identical inputs always yield the identical score.
func Score(a, b Descriptor) (float64, error) {
	if a.Version != b.Version {
		return 0, fmt.Errorf("%w: %q vs %q", ErrVersionMismatch, a.Version, b.Version)
	}
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	var dot, normA, normB float64
	for i := 0; i < Dim; i++ {
		dot += a.Values[i] * b.Values[i]
		normA += a.Values[i] * a.Values[i]
		normB += b.Values[i] * b.Values[i]
	}

	cosine := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01(cosine), nil
}

// Match applies the decision rule: equality is accepted.
func Match(score, threshold float64) bool {
	return score >= threshold
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
