package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"adorb/internal/config"
	"adorb/internal/orb"
)

func TestVectorSimilarityIdentical(t *testing.T) {
	v := []float32{0.3, -0.2, 0.9, 0.1}
	assert.InDelta(t, 1.0, VectorSimilarity(v, v), 1e-9)
}

func TestVectorSimilarityOpposite(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{-1, 0, 0}
	assert.InDelta(t, 0.0, VectorSimilarity(a, b), 1e-9)
}

func TestVectorSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.5, VectorSimilarity(a, b), 1e-9)
}

func TestVectorSimilarityDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, VectorSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, VectorSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, VectorSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestVectorSimilarityRange(t *testing.T) {
	pairs := [][2][]float32{
		{{0.5, 0.1, -0.3}, {0.2, 0.9, 0.4}},
		{{-1, -1, -1}, {1, 1, 1}},
		{{0.001, 0}, {1000, 0.5}},
	}
	for _, p := range pairs {
		s := VectorSimilarity(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func adWithTraits(traits map[string]interface{}) *orb.AdOrb {
	return &orb.AdOrb{ID: "x", Traits: traits}
}

func TestStructuredSimilarityIdenticalTraits(t *testing.T) {
	traits := map[string]interface{}{
		"platform": "tiktok",
		"hook":     "curiosity",
		"ugc":      true,
	}
	s := StructuredSimilarity(adWithTraits(traits), adWithTraits(traits))
	assert.InDelta(t, 1.0, s, 1e-9)
}

func TestStructuredSimilarityDisjointKeys(t *testing.T) {
	a := adWithTraits(map[string]interface{}{"platform": "tiktok"})
	b := adWithTraits(map[string]interface{}{"hook": "curiosity"})
	assert.Equal(t, 0.0, StructuredSimilarity(a, b))
}

func TestStructuredSimilarityPartialStringMatch(t *testing.T) {
	a := adWithTraits(map[string]interface{}{"hook": "problem_solution"})
	b := adWithTraits(map[string]interface{}{"hook": "problem"})
	// Substring match earns half the trait weight over a single-key union.
	assert.InDelta(t, 0.5, StructuredSimilarity(a, b), 1e-9)
}

func TestStructuredSimilarityBooleanMismatch(t *testing.T) {
	a := adWithTraits(map[string]interface{}{"ugc": true})
	b := adWithTraits(map[string]interface{}{"ugc": false})
	assert.Equal(t, 0.0, StructuredSimilarity(a, b))
}

func TestStructuredSimilarityWeighting(t *testing.T) {
	// Platform (2.0) matches, an unlisted trait (0.5) mismatches:
	// 2.0 / 2.5 = 0.8
	a := adWithTraits(map[string]interface{}{"platform": "tiktok", "quirk": "x"})
	b := adWithTraits(map[string]interface{}{"platform": "tiktok", "quirk": "y"})
	assert.InDelta(t, 0.8, StructuredSimilarity(a, b), 1e-9)
}

func TestTraitWeightDefault(t *testing.T) {
	assert.Equal(t, 2.0, TraitWeight("platform"))
	assert.Equal(t, 1.5, TraitWeight("hook"))
	assert.Equal(t, 0.5, TraitWeight("never_heard_of_it"))
}

func TestScorerHybridWeights(t *testing.T) {
	scorer := NewScorer(config.RetrievalConfig{
		VectorWeight:     0.6,
		StructuredWeight: 0.4,
	})

	now := time.Now()
	query := &orb.AdOrb{
		ID:        "q",
		Embedding: []float32{1, 0},
		Traits:    map[string]interface{}{"platform": "tiktok"},
	}
	candidate := &orb.AdOrb{
		ID:        "c",
		Embedding: []float32{1, 0},
		Traits:    map[string]interface{}{"platform": "tiktok"},
		Metadata:  orb.Metadata{CreatedAt: now},
	}

	score := scorer.Score(query, candidate)
	assert.InDelta(t, 1.0, score.Vector, 1e-9)
	assert.InDelta(t, 1.0, score.Structured, 1e-9)
	assert.InDelta(t, 1.0, score.Hybrid, 1e-9)
	assert.InDelta(t, 1.0, score.Recency, 0.01)
	assert.InDelta(t, score.Hybrid*score.Recency, score.Weighted, 1e-9)
}

func TestRecencyWeightHalfLife(t *testing.T) {
	scorer := NewScorer(config.RetrievalConfig{
		RecencyHalfLifeDays: 30,
		RecencyFloor:        0.1,
	})

	// Exactly one half-life old.
	w := scorer.RecencyWeight(time.Now().Add(-30 * 24 * time.Hour))
	assert.InDelta(t, 0.5, w, 0.01)

	// Fresh ad.
	w = scorer.RecencyWeight(time.Now())
	assert.InDelta(t, 1.0, w, 0.01)

	// Very old ads never drop below the floor.
	w = scorer.RecencyWeight(time.Now().Add(-10 * 365 * 24 * time.Hour))
	assert.Equal(t, 0.1, w)

	// Unknown creation time is treated as maximally stale.
	assert.Equal(t, 0.1, scorer.RecencyWeight(time.Time{}))
}
