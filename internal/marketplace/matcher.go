package marketplace

import (
	"math"
	"sort"
	"strings"

	"adorb/internal/config"
	"adorb/internal/logging"
)

// Match score weights: declared coverage dominates, freshness and provider
// confidence temper it.
const (
	coverageWeight   = 0.6
	freshnessWeight  = 0.2
	confidenceWeight = 0.2
)

// Per-gap coverage grades.
const (
	exactCoverage   = 100.0
	partialCoverage = 60.0
)

// Severity weights when combining per-gap coverage into one score.
var severityWeights = map[Severity]float64{
	SeverityHigh:   1.5,
	SeverityMedium: 1.0,
	SeverityLow:    0.5,
}

// Matcher scores candidate datasets against detected gap sets.
type Matcher struct {
	cfg config.MarketplaceConfig
}

// NewMatcher creates a dataset matcher.
func NewMatcher(cfg config.MarketplaceConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// MatchDatasets scores each candidate dataset against the gap set, drops
// those below the minimum match score, and returns the best suggestions in
// descending order, capped at the configured maximum.
func (m *Matcher) MatchDatasets(gaps []DataNeed, datasets []Dataset) []Match {
	timer := logging.StartTimer(logging.CategoryMarketplace, "MatchDatasets")
	defer timer.Stop()

	if len(gaps) == 0 || len(datasets) == 0 {
		return nil
	}

	minScore := m.cfg.MinMatchScore
	if minScore <= 0 {
		minScore = 40
	}
	maxSuggestions := m.cfg.MaxSuggestions
	if maxSuggestions <= 0 {
		maxSuggestions = 3
	}

	var matches []Match
	for _, ds := range datasets {
		match := m.scoreDataset(gaps, ds)
		if match.MatchScore < minScore {
			logging.MarketplaceDebug("Dataset %s scored %.1f, below minimum %.1f", ds.ID, match.MatchScore, minScore)
			continue
		}
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}

	logging.Marketplace("Matched %d of %d datasets against %d gaps", len(matches), len(datasets), len(gaps))
	return matches
}

// scoreDataset computes coverage, match score and estimated gain for one
// dataset against the gap set.
func (m *Matcher) scoreDataset(gaps []DataNeed, ds Dataset) Match {
	var weightedCoverage, totalWeight float64
	var addressed []DataNeed
	var addressedImpact float64

	for _, gap := range gaps {
		w := severityWeights[gap.Severity]
		if w == 0 {
			w = 0.5
		}
		cov := gapCoverage(gap, ds)
		weightedCoverage += w * cov
		totalWeight += w
		if cov > 0 {
			addressed = append(addressed, gap)
			addressedImpact += gap.EstimatedConfidenceImpact
		}
	}

	coverage := 0.0
	if totalWeight > 0 {
		coverage = weightedCoverage / totalWeight
	}

	matchScore := coverage*coverageWeight + ds.FreshnessScore*freshnessWeight + ds.ConfidenceScore*confidenceWeight

	return Match{
		Dataset:                 ds,
		MatchScore:              matchScore,
		CoverageScore:           coverage,
		AddressedGaps:           addressed,
		EstimatedConfidenceGain: m.estimateGain(ds, coverage, addressedImpact),
	}
}

// gapCoverage grades how well one dataset covers one gap: exact declared
// coverage scores 100, fuzzy trait-name overlap 60, otherwise 0.
func gapCoverage(gap DataNeed, ds Dataset) float64 {
	switch gap.Dimension {
	case DimensionPlatform:
		if containsFold(ds.Coverage.Platforms, gap.Value) {
			return exactCoverage
		}
	case DimensionTrait:
		// A gap value like "hook=problem_solution" matches a dataset that
		// declares the trait key, exactly or fuzzily.
		key := gap.Value
		if i := strings.IndexByte(key, '='); i >= 0 {
			key = key[:i]
		}
		if containsFold(ds.Coverage.Traits, key) {
			return exactCoverage
		}
		if fuzzyContains(ds.Coverage.Traits, key) {
			return partialCoverage
		}
	case DimensionNeighbors:
		// Generic volume gaps are covered by any dataset with samples.
		if ds.SampleCount > 0 {
			return exactCoverage
		}
	}
	return 0
}

// estimateGain scales the dataset's base average gain by coverage fit,
// log-scaled sample volume and provider confidence, capped by what the
// addressed gaps could actually recover.
func (m *Matcher) estimateGain(ds Dataset, coverage, addressedImpact float64) float64 {
	if ds.BaseAvgGain <= 0 || coverage <= 0 {
		return 0
	}

	sampleFactor := 0.0
	if ds.SampleCount > 0 {
		// Saturates around 100k samples.
		sampleFactor = math.Log10(float64(ds.SampleCount)+1) / 5
		if sampleFactor > 1 {
			sampleFactor = 1
		}
	}

	gain := ds.BaseAvgGain * (coverage / 100) * sampleFactor * (ds.ConfidenceScore / 100)
	if gain > addressedImpact {
		gain = addressedImpact
	}
	if gain < 0 {
		return 0
	}
	return gain
}

// TotalEstimatedGain combines gains across suggested datasets with
// diminishing returns: each subsequent dataset contributes at half the
// weight of the previous one.
func TotalEstimatedGain(matches []Match) float64 {
	var total, weight float64
	weight = 1
	for _, m := range matches {
		total += m.EstimatedConfidenceGain * weight
		weight /= 2
	}
	return total
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// fuzzyContains matches trait names by substring either way,
// case-insensitive.
func fuzzyContains(values []string, target string) bool {
	t := strings.ToLower(target)
	if t == "" {
		return false
	}
	for _, v := range values {
		vl := strings.ToLower(v)
		if vl == "" {
			continue
		}
		if strings.Contains(vl, t) || strings.Contains(t, vl) {
			return true
		}
	}
	return false
}
