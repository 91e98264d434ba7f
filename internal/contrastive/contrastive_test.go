package contrastive

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"adorb/internal/config"
	"adorb/internal/orb"
	"adorb/internal/retrieval"
	"adorb/internal/similarity"
)

func testConfig() config.ContrastiveConfig {
	return config.ContrastiveConfig{
		MinSampleSize:         5,
		MinSampleSizePerGroup: 3,
		SignificanceThreshold: 5,
		MaxAbsoluteLift:       50,
		SampleSizeCeiling:     20,
		LowConfidenceBelow:    40,
		TopEffects:            5,
	}
}

func neighbor(id string, traits map[string]interface{}, score, weight float64) retrieval.NeighborAd {
	return retrieval.NeighborAd{
		Ad: &orb.AdOrb{
			ID:      id,
			Traits:  traits,
			Results: &orb.Results{SuccessScore: score},
		},
		Similarity: similarity.Score{Hybrid: 0.8, Weighted: weight},
	}
}

// ugcSet builds 5 UGC ads averaging 75 and 5 non-UGC ads averaging 50,
// with equal weights so the lift is exactly 25.
func ugcSet() []retrieval.NeighborAd {
	var neighbors []retrieval.NeighborAd
	for i := 0; i < 5; i++ {
		neighbors = append(neighbors, neighbor(
			fmt.Sprintf("ugc-%d", i),
			map[string]interface{}{"ugc": true},
			75, 1.0))
	}
	for i := 0; i < 5; i++ {
		neighbors = append(neighbors, neighbor(
			fmt.Sprintf("plain-%d", i),
			map[string]interface{}{"ugc": false},
			50, 1.0))
	}
	return neighbors
}

func TestSplitByTraitPartition(t *testing.T) {
	neighbors := ugcSet()
	with, without := SplitByTrait(neighbors, "ugc", nil)

	// Partition property: every neighbor lands in exactly one group.
	assert.Equal(t, len(neighbors), len(with)+len(without))
	assert.Len(t, with, 5)
	assert.Len(t, without, 5)
	for _, n := range with {
		assert.True(t, n.Ad.Traits["ugc"].(bool))
	}
}

func TestSplitByTraitFalseBooleanIsWithout(t *testing.T) {
	neighbors := []retrieval.NeighborAd{
		neighbor("a", map[string]interface{}{"ugc": false}, 50, 1),
	}
	with, without := SplitByTrait(neighbors, "ugc", nil)
	assert.Empty(t, with)
	assert.Len(t, without, 1)
}

func TestSplitByTraitValue(t *testing.T) {
	neighbors := []retrieval.NeighborAd{
		neighbor("a", map[string]interface{}{"hook": "curiosity"}, 50, 1),
		neighbor("b", map[string]interface{}{"hook": "urgency"}, 50, 1),
		neighbor("c", map[string]interface{}{}, 50, 1),
	}
	with, without := SplitByTrait(neighbors, "hook", "curiosity")
	assert.Len(t, with, 1)
	assert.Len(t, without, 2)
}

func TestAnalyzeTraitEffectLift(t *testing.T) {
	a := NewAnalyzer(testConfig())
	effect := a.AnalyzeTraitEffect(ugcSet(), "ugc", nil)

	assert.False(t, effect.InsufficientEvidence)
	assert.InDelta(t, 25.0, effect.Lift, 1e-9)
	assert.InDelta(t, 50.0, effect.LiftPercent, 1e-9)
	assert.True(t, effect.Significant)
	assert.Equal(t, RecommendUse, effect.Recommendation)
	assert.Equal(t, 5, effect.WithCount)
	assert.Equal(t, 5, effect.WithoutCount)
}

func TestAnalyzeTraitEffectInsufficientEvidence(t *testing.T) {
	a := NewAnalyzer(testConfig())
	neighbors := []retrieval.NeighborAd{
		neighbor("a", map[string]interface{}{"ugc": true}, 90, 1),
		neighbor("b", map[string]interface{}{"ugc": false}, 30, 1),
		neighbor("c", map[string]interface{}{"ugc": false}, 40, 1),
		neighbor("d", map[string]interface{}{"ugc": false}, 50, 1),
	}
	effect := a.AnalyzeTraitEffect(neighbors, "ugc", nil)

	// One WITH member is far below the 3-per-group minimum: no point
	// estimate, capped confidence, test recommendation.
	assert.True(t, effect.InsufficientEvidence)
	assert.Equal(t, 0.0, effect.Lift)
	assert.LessOrEqual(t, effect.Confidence, 25.0)
	assert.Equal(t, RecommendTest, effect.Recommendation)
}

func TestAnalyzeTraitEffectClampsLift(t *testing.T) {
	a := NewAnalyzer(testConfig())
	var neighbors []retrieval.NeighborAd
	for i := 0; i < 5; i++ {
		neighbors = append(neighbors, neighbor(fmt.Sprintf("hi-%d", i), map[string]interface{}{"ugc": true}, 100, 1))
	}
	for i := 0; i < 5; i++ {
		neighbors = append(neighbors, neighbor(fmt.Sprintf("lo-%d", i), map[string]interface{}{"ugc": false}, 5, 1))
	}
	effect := a.AnalyzeTraitEffect(neighbors, "ugc", nil)
	assert.Equal(t, 50.0, effect.Lift, "raw lift 95 must clamp to the configured maximum")
}

func TestAnalyzeBuckets(t *testing.T) {
	a := NewAnalyzer(testConfig())
	analysis := a.Analyze(ugcSet())

	assert.NotEmpty(t, analysis.Effects)
	found := false
	for _, e := range analysis.TopPositive {
		if e.Trait == "ugc" {
			found = true
		}
	}
	assert.True(t, found, "ugc lift should land in TopPositive")
	assert.InDelta(t, analysis.NetLift(), 25.0, 26.0) // net lift dominated by ugc
}

func TestAnalyzeEmptyNeighbors(t *testing.T) {
	a := NewAnalyzer(testConfig())
	analysis := a.Analyze(nil)
	assert.Empty(t, analysis.Effects)
	assert.Equal(t, 0.0, analysis.NetLift())
}

func TestWeightedSuccessAvgZeroWeightFallback(t *testing.T) {
	neighbors := []retrieval.NeighborAd{
		neighbor("a", nil, 40, 0),
		neighbor("b", nil, 60, 0),
	}
	// All weights zero: fall back to the plain mean instead of dividing by 0.
	assert.Equal(t, 50.0, weightedSuccessAvg(neighbors))
}

func TestWeightedSuccessAvgRespectsWeights(t *testing.T) {
	neighbors := []retrieval.NeighborAd{
		neighbor("a", nil, 100, 3),
		neighbor("b", nil, 0, 1),
	}
	assert.Equal(t, 75.0, weightedSuccessAvg(neighbors))
}

func TestZeroConfigSignificanceGate(t *testing.T) {
	a := NewAnalyzer(config.ContrastiveConfig{})

	// Four scored ads per group: enough to estimate a lift, but below the
	// default significance minimum of 5 per group.
	var neighbors []retrieval.NeighborAd
	for i := 0; i < 4; i++ {
		neighbors = append(neighbors, neighbor(
			fmt.Sprintf("ugc-%d", i),
			map[string]interface{}{"ugc": true},
			80, 1.0))
		neighbors = append(neighbors, neighbor(
			fmt.Sprintf("plain-%d", i),
			map[string]interface{}{"ugc": false},
			40, 1.0))
	}

	effect := a.AnalyzeTraitEffect(neighbors, "ugc", nil)
	assert.False(t, effect.InsufficientEvidence, "4 per group passes the evidence guard")
	assert.InDelta(t, 40.0, effect.Lift, 0.001)
	assert.False(t, effect.Significant, "4 per group must not be significant under the default minimum")
}
