package prediction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"adorb/internal/config"
	"adorb/internal/contrastive"
	"adorb/internal/orb"
	"adorb/internal/retrieval"
	"adorb/internal/similarity"
)

func testPredictor() *Predictor {
	return NewPredictor(
		config.PredictionConfig{
			DefaultScore:       50,
			SampleSizeCeiling:  15,
			VarianceCeiling:    15,
			BaseBlendAlpha:     0.7,
			ContrastiveDamping: 0.5,
		},
		config.RetrievalConfig{
			MinNeighbors:  5,
			MinSimilarity: 0.3,
		},
	)
}

func scored(id string, score, hybrid, weighted float64) retrieval.NeighborAd {
	return retrieval.NeighborAd{
		Ad: &orb.AdOrb{
			ID:      id,
			Results: &orb.Results{SuccessScore: score},
		},
		Similarity: similarity.Score{Hybrid: hybrid, Recency: 1, Weighted: weighted},
	}
}

func uniformSet(n int, score float64) []retrieval.NeighborAd {
	var out []retrieval.NeighborAd
	for i := 0; i < n; i++ {
		out = append(out, scored(fmt.Sprintf("n%d", i), score, 0.8, 0.8))
	}
	return out
}

func TestWeightedPredictionEmpty(t *testing.T) {
	p := testPredictor()
	assert.Equal(t, 50.0, p.WeightedPrediction(nil))
}

func TestWeightedPredictionUnscoredNeighbors(t *testing.T) {
	p := testPredictor()
	neighbors := []retrieval.NeighborAd{
		{Ad: &orb.AdOrb{ID: "a"}, Similarity: similarity.Score{Weighted: 0.9}},
	}
	assert.Equal(t, 50.0, p.WeightedPrediction(neighbors))
}

func TestWeightedPredictionWeighting(t *testing.T) {
	p := testPredictor()
	neighbors := []retrieval.NeighborAd{
		scored("a", 100, 0.9, 3),
		scored("b", 0, 0.3, 1),
	}
	assert.Equal(t, 75.0, p.WeightedPrediction(neighbors))
}

func TestWeightedPredictionBounds(t *testing.T) {
	p := testPredictor()
	got := p.WeightedPrediction(uniformSet(10, 100))
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 100.0)
}

func TestStdDev(t *testing.T) {
	p := testPredictor()
	assert.Equal(t, 0.0, p.StdDev(uniformSet(1, 50)), "single score has no deviation")
	assert.Equal(t, 0.0, p.StdDev(uniformSet(8, 60)), "identical scores deviate by 0")

	neighbors := []retrieval.NeighborAd{
		scored("a", 40, 0.8, 0.8),
		scored("b", 60, 0.8, 0.8),
	}
	assert.InDelta(t, 14.142, p.StdDev(neighbors), 0.01)
}

func TestConfidenceEmpty(t *testing.T) {
	p := testPredictor()
	assert.Equal(t, 0.0, p.Confidence(nil))
}

func TestConfidenceGrowsWithSampleSize(t *testing.T) {
	p := testPredictor()
	small := p.Confidence(uniformSet(3, 60))
	large := p.Confidence(uniformSet(15, 60))
	assert.Greater(t, large, small)
	assert.LessOrEqual(t, large, 100.0)
}

func TestConfidencePenalizesVariance(t *testing.T) {
	p := testPredictor()

	stable := uniformSet(10, 60)
	var noisy []retrieval.NeighborAd
	for i := 0; i < 10; i++ {
		score := 10.0
		if i%2 == 0 {
			score = 95
		}
		noisy = append(noisy, scored(fmt.Sprintf("n%d", i), score, 0.8, 0.8))
	}

	assert.Greater(t, p.Confidence(stable), p.Confidence(noisy))
}

func TestBlendAlphaForcedZeroBelowMinimum(t *testing.T) {
	p := testPredictor()
	assert.Equal(t, 0.0, p.BlendAlpha(uniformSet(4, 60)), "below MinNeighbors alpha must be 0")
	assert.Greater(t, p.BlendAlpha(uniformSet(5, 60)), 0.0)
}

func TestBlendAlphaScalesWithEvidence(t *testing.T) {
	p := testPredictor()
	thin := p.BlendAlpha(uniformSet(5, 60))
	full := p.BlendAlpha(uniformSet(15, 60))
	assert.Greater(t, full, thin)
	assert.InDelta(t, 0.7, full, 1e-9, "full evidence earns the base alpha")
	assert.LessOrEqual(t, full, 1.0)
}

func TestBlendAlphaHalvedOnLowSimilarity(t *testing.T) {
	p := testPredictor()

	var vague []retrieval.NeighborAd
	for i := 0; i < 15; i++ {
		vague = append(vague, scored(fmt.Sprintf("n%d", i), 60, 0.4, 0.4))
	}
	assert.InDelta(t, 0.35, p.BlendAlpha(vague), 1e-9)
}

func TestAdjustWithContrastive(t *testing.T) {
	p := testPredictor()

	analysis := &contrastive.Analysis{
		TopPositive: []contrastive.TraitEffect{
			{Trait: "ugc", Lift: 20, Confidence: 100},
		},
		TopNegative: []contrastive.TraitEffect{
			{Trait: "has_logo", Lift: -10, Confidence: 50},
		},
	}

	// 60 + 20*1.0*0.5 - 10*0.5*0.5 = 67.5
	assert.InDelta(t, 67.5, p.AdjustWithContrastive(60, analysis), 1e-9)

	// Nil analysis passes through.
	assert.Equal(t, 60.0, p.AdjustWithContrastive(60, nil))

	// Adjustments re-clamp.
	big := &contrastive.Analysis{TopPositive: []contrastive.TraitEffect{{Lift: 50, Confidence: 100}, {Lift: 50, Confidence: 100}}}
	assert.Equal(t, 100.0, p.AdjustWithContrastive(95, big))
}
