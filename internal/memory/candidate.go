// Package memory implements the retrieval-and-filtering pipeline that turns
// stored conversational memories into at most three short texts injected
// into a single generation step.
package memory

import (
	"math"
	"time"
)

// Candidate is one retrieved memory record with its per-retrieval scores.
// Candidates are ephemeral: computed for one retrieval response, never
// persisted.
type Candidate struct {
	ID          string
	Text        string
	Vector      []float32
	CreatedAt   time.Time
	AccessCount int

	// Similarity is the cosine similarity to the current query vector.
	Similarity float64
	// Score is the weighted composite of similarity, recency and frequency.
	Score float64
}

// Weights configures the composite candidate score.
type Weights struct {
	Similarity float64
	Recency    float64
	Frequency  float64
	HalfLife   time.Duration
}

// DefaultWeights matches the tuning the retrieval filter was designed
// around: similarity dominates, recency matters, frequency nudges.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.6, Recency: 0.3, Frequency: 0.1, HalfLife: 72 * time.Hour}
}

// Composite computes the weighted score for a candidate at time now.
// Recency decays exponentially with the configured half-life; frequency is
// log-scaled so a handful of accesses counts but hot records cannot swamp
// similarity.
func (w Weights) Composite(c Candidate, now time.Time) float64 {
	age := now.Sub(c.CreatedAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-math.Ln2 * age.Seconds() / w.HalfLife.Seconds())
	freq := math.Log1p(float64(c.AccessCount)) / math.Log1p(100)
	if freq > 1 {
		freq = 1
	}
	return w.Similarity*c.Similarity + w.Recency*recency + w.Frequency*freq
}

// Cosine returns the cosine similarity between two vectors, 0 for
// mismatched or zero-length input.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
