package marketplace

import (
	"fmt"
	"math"
	"sort"

	"adorb/internal/config"
	"adorb/internal/contrastive"
	"adorb/internal/logging"
	"adorb/internal/retrieval"
)

// Variance thresholds: neighbor outcome std-dev above these triggers a
// quality gap at the given severity.
const (
	varianceMediumThreshold = 25.0
	varianceHighThreshold   = 35.0
)

// Detector inspects retrieval and analysis outputs for coverage gaps.
type Detector struct {
	cfg          config.MarketplaceConfig
	retrievalCfg config.RetrievalConfig
}

// NewDetector creates a gap detector.
func NewDetector(cfg config.MarketplaceConfig, retrievalCfg config.RetrievalConfig) *Detector {
	return &Detector{cfg: cfg, retrievalCfg: retrievalCfg}
}

// DetectGaps finds neighbor-quality, platform and trait gaps for one
// prediction, deduplicated by (dimension,value) keeping the higher
// severity, sorted severity-first then impact.
func (d *Detector) DetectGaps(neighbors []retrieval.NeighborAd, analysis *contrastive.Analysis, platform string) []DataNeed {
	timer := logging.StartTimer(logging.CategoryMarketplace, "DetectGaps")
	defer timer.Stop()

	var gaps []DataNeed
	gaps = append(gaps, d.neighborGaps(neighbors)...)
	if g, ok := d.platformGap(neighbors, platform); ok {
		gaps = append(gaps, g)
	}
	gaps = append(gaps, d.traitGaps(analysis)...)

	gaps = dedupeGaps(gaps)
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Severity.rank() != gaps[j].Severity.rank() {
			return gaps[i].Severity.rank() > gaps[j].Severity.rank()
		}
		return gaps[i].EstimatedConfidenceImpact > gaps[j].EstimatedConfidenceImpact
	})

	logging.Marketplace("Detected %d data gaps (platform=%s, neighbors=%d)", len(gaps), platform, len(neighbors))
	return gaps
}

// neighborGaps covers class (a): too few neighbors, low average similarity,
// high outcome variance.
func (d *Detector) neighborGaps(neighbors []retrieval.NeighborAd) []DataNeed {
	var gaps []DataNeed

	required := d.cfg.RequiredNeighbors
	if required <= 0 {
		required = 10
	}

	if len(neighbors) < required {
		gaps = append(gaps, d.newGap(
			DimensionNeighbors, "similar_ads",
			severityFromCount(len(neighbors), required),
			len(neighbors), required,
			fmt.Sprintf("only %d comparable ads found, %d needed for stable estimates", len(neighbors), required),
		))
	}

	if len(neighbors) > 0 && retrieval.AvgSimilarity(neighbors) < d.retrievalCfg.MinSimilarity {
		gaps = append(gaps, d.newGap(
			DimensionNeighbors, "similarity",
			SeverityMedium,
			len(neighbors), required,
			fmt.Sprintf("average similarity %.2f is below the usable threshold %.2f",
				retrieval.AvgSimilarity(neighbors), d.retrievalCfg.MinSimilarity),
		))
	}

	if stddev := successStdDev(neighbors); stddev > varianceMediumThreshold {
		sev := SeverityMedium
		if stddev > varianceHighThreshold {
			sev = SeverityHigh
		}
		gaps = append(gaps, d.newGap(
			DimensionNeighbors, "outcome_variance",
			sev,
			len(neighbors), required,
			fmt.Sprintf("neighbor outcomes disagree strongly (std dev %.1f)", stddev),
		))
	}

	return gaps
}

// platformGap covers class (b): insufficient same-platform neighbors.
func (d *Detector) platformGap(neighbors []retrieval.NeighborAd, platform string) (DataNeed, bool) {
	if platform == "" {
		return DataNeed{}, false
	}

	required := d.cfg.RequiredPlatform
	if required <= 0 {
		required = 5
	}

	samePlatform := 0
	for _, n := range neighbors {
		if n.Ad.Metadata.Platform == platform {
			samePlatform++
		}
	}
	if samePlatform >= required {
		return DataNeed{}, false
	}

	return d.newGap(
		DimensionPlatform, platform,
		severityFromCount(samePlatform, required),
		samePlatform, required,
		fmt.Sprintf("only %d of %d neighbors ran on %s", samePlatform, len(neighbors), platform),
	), true
}

// traitGaps covers class (c): trait effects too uncertain to act on.
func (d *Detector) traitGaps(analysis *contrastive.Analysis) []DataNeed {
	if analysis == nil {
		return nil
	}

	required := d.cfg.RequiredTrait
	if required <= 0 {
		required = 8
	}

	var gaps []DataNeed
	for _, e := range analysis.LowConfidence {
		current := e.WithCount + e.WithoutCount
		gaps = append(gaps, d.newGap(
			DimensionTrait, e.Label(),
			severityFromCount(current, required*2),
			current, required,
			fmt.Sprintf("trait %s has confidence %.0f, below actionable threshold", e.Label(), e.Confidence),
		))
	}
	return gaps
}

func (d *Detector) newGap(dimension, value string, sev Severity, current, required int, reason string) DataNeed {
	return DataNeed{
		Dimension:                 dimension,
		Value:                     value,
		Severity:                  sev,
		CurrentSamples:            current,
		RequiredSamples:           required,
		EstimatedConfidenceImpact: d.confidenceImpact(current, required),
		Reason:                    reason,
	}
}

// confidenceImpact estimates the confidence points recoverable by closing a
// gap: maxGain * (1 - e^(-deficit/required)). Diminishing returns keep a
// single giant gap from promising unbounded improvement.
func (d *Detector) confidenceImpact(current, required int) float64 {
	if required <= 0 || current >= required {
		return 0
	}
	maxGain := d.cfg.MaxConfidenceGain
	if maxGain <= 0 {
		maxGain = 30
	}
	deficit := float64(required - current)
	return maxGain * (1 - math.Exp(-deficit/float64(required)))
}

// severityFromCount grades a shortfall against its requirement.
func severityFromCount(current, required int) Severity {
	if required <= 0 {
		return SeverityLow
	}
	ratio := float64(current) / float64(required)
	switch {
	case ratio < 0.34:
		return SeverityHigh
	case ratio < 0.67:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// dedupeGaps keeps the higher-severity instance per (dimension, value).
func dedupeGaps(gaps []DataNeed) []DataNeed {
	best := make(map[string]DataNeed, len(gaps))
	var order []string
	for _, g := range gaps {
		key := g.Dimension + "\x00" + g.Value
		existing, ok := best[key]
		if !ok {
			best[key] = g
			order = append(order, key)
			continue
		}
		if g.Severity.rank() > existing.Severity.rank() {
			best[key] = g
		}
	}

	out := make([]DataNeed, 0, len(best))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// successStdDev is the sample standard deviation of neighbor outcomes.
func successStdDev(neighbors []retrieval.NeighborAd) float64 {
	var scores []float64
	for _, n := range neighbors {
		if s, ok := n.SuccessScore(); ok {
			scores = append(scores, s)
		}
	}
	if len(scores) < 2 {
		return 0
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var sq float64
	for _, s := range scores {
		sq += (s - mean) * (s - mean)
	}
	return math.Sqrt(sq / float64(len(scores)-1))
}
