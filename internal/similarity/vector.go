// Package similarity scores pairs of ads: embedding cosine similarity,
// structured trait overlap, their hybrid combination, and recency decay.
// All scores are in [0,1]; degenerate inputs score 0 and are logged, never
// returned as errors.
package similarity

import (
	"math"

	"adorb/internal/logging"
)

// VectorSimilarity computes cosine similarity between two embeddings,
// normalized from [-1,1] to [0,1] via (cos+1)/2. Empty vectors or a
// dimension mismatch score 0 (logged, not an error): a missing embedding
// is a data-quality condition, not a caller bug.
func VectorSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		logging.RetrievalDebug("VectorSimilarity: empty vector (len a=%d, b=%d)", len(a), len(b))
		return 0
	}
	if len(a) != len(b) {
		logging.Get(logging.CategoryRetrieval).Warn("VectorSimilarity: dimension mismatch %d != %d", len(a), len(b))
		return 0
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}

	if aMag == 0 || bMag == 0 {
		logging.RetrievalDebug("VectorSimilarity: zero magnitude vector")
		return 0
	}

	cos := dot / (math.Sqrt(aMag) * math.Sqrt(bMag))
	// Float error can push |cos| fractionally past 1.
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return (cos + 1) / 2
}
