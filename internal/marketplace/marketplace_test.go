package marketplace

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

func testMarketplaceConfig() config.MarketplaceConfig {
	return config.MarketplaceConfig{
		MinMatchScore:     40,
		MaxSuggestions:    3,
		RequiredPlatform:  5,
		RequiredTrait:     8,
		RequiredNeighbors: 10,
		MaxConfidenceGain: 30,
	}
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{MinNeighbors: 5, MinSimilarity: 0.3}
}

func neighborOn(platform string, score float64) retrieval.NeighborAd {
	return retrieval.NeighborAd{
		Ad: &orb.AdOrb{
			ID:       fmt.Sprintf("%s-%0.f", platform, score),
			Results:  &orb.Results{SuccessScore: score},
			Metadata: orb.Metadata{Platform: platform},
		},
		Similarity: similarity.Score{Hybrid: 0.7, Weighted: 0.7},
	}
}

func TestDetectGapsFewNeighbors(t *testing.T) {
	d := NewDetector(testMarketplaceConfig(), testRetrievalConfig())

	neighbors := []retrieval.NeighborAd{
		neighborOn("tiktok", 60),
		neighborOn("tiktok", 62),
	}
	gaps := d.DetectGaps(neighbors, nil, "tiktok")

	var volume *DataNeed
	for i := range gaps {
		if gaps[i].Dimension == DimensionNeighbors && gaps[i].Value == "similar_ads" {
			volume = &gaps[i]
		}
	}
	if volume == nil {
		t.Fatal("Expected a neighbor volume gap")
	}
	// 2 of 10 is well under a third: high severity.
	assert.Equal(t, SeverityHigh, volume.Severity)
	assert.Equal(t, 2, volume.CurrentSamples)
	assert.Equal(t, 10, volume.RequiredSamples)
	assert.Greater(t, volume.EstimatedConfidenceImpact, 0.0)
	assert.LessOrEqual(t, volume.EstimatedConfidenceImpact, 30.0)
}

func TestDetectGapsPlatform(t *testing.T) {
	d := NewDetector(testMarketplaceConfig(), testRetrievalConfig())

	var neighbors []retrieval.NeighborAd
	for i := 0; i < 12; i++ {
		neighbors = append(neighbors, neighborOn("meta", 60+float64(i%3)))
	}
	gaps := d.DetectGaps(neighbors, nil, "tiktok")

	found := false
	for _, g := range gaps {
		if g.Dimension == DimensionPlatform && g.Value == "tiktok" {
			found = true
			assert.Equal(t, SeverityHigh, g.Severity, "zero same-platform neighbors is a high-severity gap")
		}
	}
	assert.True(t, found, "expected a platform gap")
}

func TestDetectGapsVariance(t *testing.T) {
	d := NewDetector(testMarketplaceConfig(), testRetrievalConfig())

	var neighbors []retrieval.NeighborAd
	for i := 0; i < 12; i++ {
		score := 5.0
		if i%2 == 0 {
			score = 95
		}
		neighbors = append(neighbors, neighborOn("tiktok", score))
	}
	gaps := d.DetectGaps(neighbors, nil, "tiktok")

	found := false
	for _, g := range gaps {
		if g.Dimension == DimensionNeighbors && g.Value == "outcome_variance" {
			found = true
			assert.Equal(t, SeverityHigh, g.Severity)
		}
	}
	assert.True(t, found, "expected an outcome variance gap")
}

func TestDetectGapsTraitsFromLowConfidence(t *testing.T) {
	d := NewDetector(testMarketplaceConfig(), testRetrievalConfig())

	analysis := &contrastive.Analysis{
		LowConfidence: []contrastive.TraitEffect{
			{Trait: "hook", Value: "urgency", Confidence: 20, WithCount: 2, WithoutCount: 3},
		},
	}
	var neighbors []retrieval.NeighborAd
	for i := 0; i < 12; i++ {
		neighbors = append(neighbors, neighborOn("tiktok", 60))
	}

	gaps := d.DetectGaps(neighbors, analysis, "tiktok")
	found := false
	for _, g := range gaps {
		if g.Dimension == DimensionTrait && g.Value == "hook=urgency" {
			found = true
		}
	}
	assert.True(t, found, "expected a trait gap from low-confidence effects")
}

func TestDetectGapsSortedBySeverity(t *testing.T) {
	d := NewDetector(testMarketplaceConfig(), testRetrievalConfig())
	gaps := d.DetectGaps([]retrieval.NeighborAd{neighborOn("meta", 60)}, nil, "tiktok")

	for i := 1; i < len(gaps); i++ {
		assert.GreaterOrEqual(t, gaps[i-1].Severity.rank(), gaps[i].Severity.rank(),
			"gaps must be sorted severity-first")
	}
}

func TestMatchDatasetsScoreFormula(t *testing.T) {
	m := NewMatcher(testMarketplaceConfig())

	gaps := []DataNeed{
		{Dimension: DimensionPlatform, Value: "tiktok", Severity: SeverityHigh, EstimatedConfidenceImpact: 20},
	}
	ds := Dataset{
		ID:              "ds-1",
		Name:            "TikTok Performance Pack",
		Coverage:        DatasetCoverage{Platforms: []string{"tiktok"}},
		SampleCount:     10000,
		FreshnessScore:  90,
		ConfidenceScore: 70,
		BaseAvgGain:     12,
	}

	matches := m.MatchDatasets(gaps, []Dataset{ds})
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}

	// coverage 100: match = 100*0.6 + 90*0.2 + 70*0.2 = 92
	assert.InDelta(t, 92.0, matches[0].MatchScore, 1e-9)
	assert.InDelta(t, 100.0, matches[0].CoverageScore, 1e-9)
	assert.Len(t, matches[0].AddressedGaps, 1)
	assert.Greater(t, matches[0].EstimatedConfidenceGain, 0.0)
	assert.LessOrEqual(t, matches[0].EstimatedConfidenceGain, 20.0, "gain is capped by addressed impact")
}

func TestMatchDatasetsFiltersLowScores(t *testing.T) {
	m := NewMatcher(testMarketplaceConfig())

	gaps := []DataNeed{
		{Dimension: DimensionPlatform, Value: "tiktok", Severity: SeverityHigh},
	}
	unrelated := Dataset{
		ID:       "ds-2",
		Coverage: DatasetCoverage{Platforms: []string{"linkedin"}},
	}
	assert.Empty(t, m.MatchDatasets(gaps, []Dataset{unrelated}))
}

func TestMatchDatasetsFuzzyTraitCoverage(t *testing.T) {
	gap := DataNeed{Dimension: DimensionTrait, Value: "hook=urgency"}

	exact := Dataset{Coverage: DatasetCoverage{Traits: []string{"hook"}}}
	assert.Equal(t, 100.0, gapCoverage(gap, exact))

	fuzzy := Dataset{Coverage: DatasetCoverage{Traits: []string{"hook_type"}}}
	assert.Equal(t, 60.0, gapCoverage(gap, fuzzy))

	none := Dataset{Coverage: DatasetCoverage{Traits: []string{"color"}}}
	assert.Equal(t, 0.0, gapCoverage(gap, none))
}

func TestMatchDatasetsCapsSuggestions(t *testing.T) {
	m := NewMatcher(testMarketplaceConfig())

	gaps := []DataNeed{
		{Dimension: DimensionPlatform, Value: "tiktok", Severity: SeverityHigh, EstimatedConfidenceImpact: 20},
	}
	var datasets []Dataset
	for i := 0; i < 6; i++ {
		datasets = append(datasets, Dataset{
			ID:              fmt.Sprintf("ds-%d", i),
			Coverage:        DatasetCoverage{Platforms: []string{"tiktok"}},
			SampleCount:     1000,
			FreshnessScore:  float64(50 + i*5),
			ConfidenceScore: 60,
			BaseAvgGain:     10,
		})
	}

	matches := m.MatchDatasets(gaps, datasets)
	assert.Len(t, matches, 3, "suggestions are capped at the configured maximum")
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].MatchScore, matches[i].MatchScore)
	}
}

func TestTotalEstimatedGainDiminishingReturns(t *testing.T) {
	matches := []Match{
		{EstimatedConfidenceGain: 10},
		{EstimatedConfidenceGain: 10},
		{EstimatedConfidenceGain: 10},
	}
	// 10 + 5 + 2.5
	assert.InDelta(t, 17.5, TotalEstimatedGain(matches), 1e-9)
	assert.Equal(t, 0.0, TotalEstimatedGain(nil))
}

func TestDedupeGapsKeepsHigherSeverity(t *testing.T) {
	gaps := dedupeGaps([]DataNeed{
		{Dimension: DimensionPlatform, Value: "tiktok", Severity: SeverityLow},
		{Dimension: DimensionPlatform, Value: "tiktok", Severity: SeverityHigh},
		{Dimension: DimensionTrait, Value: "hook", Severity: SeverityMedium},
	})
	assert.Len(t, gaps, 2)
	assert.Equal(t, SeverityHigh, gaps[0].Severity)
}
