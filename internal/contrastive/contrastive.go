// Package contrastive explains outcome differences between neighbor ads.
// For each trait it splits the neighbor set into ads WITH and WITHOUT the
// trait and measures the similarity-weighted lift in success score, with a
// confidence estimate that refuses to overstate thin evidence.
package contrastive

import (
	"fmt"
	"math"

	"adorb/internal/config"
	"adorb/internal/logging"
	"adorb/internal/retrieval"
)

// Recommendation is the action suggested for one trait.
type Recommendation string

const (
	RecommendUse     Recommendation = "use"
	RecommendAvoid   Recommendation = "avoid"
	RecommendTest    Recommendation = "test"
	RecommendNeutral Recommendation = "neutral"
)

// insufficientEvidenceConfidenceCap bounds the confidence reported when a
// group is too small to estimate lift at all.
const insufficientEvidenceConfidenceCap = 25.0

// TraitEffect is the measured effect of one trait (optionally one specific
// value) across a neighbor set.
type TraitEffect struct {
	Trait string      `json:"trait"`
	Value interface{} `json:"value,omitempty"` // nil means presence of the key

	Lift        float64 `json:"lift"`         // with-avg minus without-avg, clamped
	LiftPercent float64 `json:"lift_percent"` // lift relative to the without-group average
	Confidence  float64 `json:"confidence"`   // 0-100

	WithCount    int `json:"with_count"`    // scored members in the WITH group
	WithoutCount int `json:"without_count"` // scored members in the WITHOUT group

	Significant          bool           `json:"significant"`
	InsufficientEvidence bool           `json:"insufficient_evidence"`
	Recommendation       Recommendation `json:"recommendation"`
}

// Label renders the trait (and value, when specific) for explanations.
func (e TraitEffect) Label() string {
	if e.Value == nil {
		return e.Trait
	}
	return fmt.Sprintf("%s=%v", e.Trait, e.Value)
}

// Analyzer runs contrastive analysis over neighbor sets.
type Analyzer struct {
	cfg config.ContrastiveConfig
}

// NewAnalyzer creates an analyzer from contrastive configuration.
func NewAnalyzer(cfg config.ContrastiveConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// SplitByTrait partitions neighbors into WITH/WITHOUT groups. Every
// neighbor lands in exactly one group: WITH ∪ WITHOUT = input and the
// groups are disjoint. A nil value tests key presence (booleans must be
// true to count as present); a concrete value tests equality.
func SplitByTrait(neighbors []retrieval.NeighborAd, key string, value interface{}) (with, without []retrieval.NeighborAd) {
	for _, n := range neighbors {
		if hasTrait(n, key, value) {
			with = append(with, n)
		} else {
			without = append(without, n)
		}
	}
	return with, without
}

func hasTrait(n retrieval.NeighborAd, key string, value interface{}) bool {
	v, ok := n.Ad.Traits[key]
	if !ok {
		return false
	}
	if value == nil {
		if b, isBool := v.(bool); isBool {
			return b
		}
		return true
	}
	return v == value
}

// AnalyzeTraitEffect measures the lift of one trait across the neighbor
// set. If either group has fewer scored members than the configured
// per-group minimum, the effect is returned immediately as insufficient
// evidence: lift 0, capped confidence, recommendation test. A misleading
// point estimate is worse than no estimate.
func (a *Analyzer) AnalyzeTraitEffect(neighbors []retrieval.NeighborAd, key string, value interface{}) TraitEffect {
	with, without := SplitByTrait(neighbors, key, value)

	withScored := scoredOnly(with)
	withoutScored := scoredOnly(without)

	effect := TraitEffect{
		Trait:        key,
		Value:        value,
		WithCount:    len(withScored),
		WithoutCount: len(withoutScored),
	}

	minGroup := a.cfg.MinSampleSizePerGroup
	if minGroup <= 0 {
		minGroup = 3
	}
	if len(withScored) < minGroup || len(withoutScored) < minGroup {
		effect.InsufficientEvidence = true
		effect.Confidence = math.Min(insufficientEvidenceConfidenceCap,
			float64(len(withScored)+len(withoutScored))*5)
		effect.Recommendation = RecommendTest
		logging.AnalysisDebug("Trait %s: insufficient evidence (with=%d, without=%d, need %d per group)",
			effect.Label(), len(withScored), len(withoutScored), minGroup)
		return effect
	}

	withAvg := weightedSuccessAvg(withScored)
	withoutAvg := weightedSuccessAvg(withoutScored)

	lift := withAvg - withoutAvg
	maxLift := a.cfg.MaxAbsoluteLift
	if maxLift <= 0 {
		maxLift = 50
	}
	if lift > maxLift {
		lift = maxLift
	} else if lift < -maxLift {
		lift = -maxLift
	}
	effect.Lift = lift
	if withoutAvg != 0 {
		effect.LiftPercent = lift / withoutAvg * 100
	}

	effect.Confidence = a.confidence(len(withScored), len(withoutScored), neighbors)

	threshold := a.cfg.SignificanceThreshold
	if threshold <= 0 {
		threshold = 5
	}
	minSig := a.cfg.MinSampleSize
	if minSig <= 0 {
		minSig = 5
	}
	effect.Significant = len(withScored) >= minSig &&
		len(withoutScored) >= minSig &&
		math.Abs(lift) >= threshold

	effect.Recommendation = a.recommend(effect, threshold)

	logging.AnalysisDebug("Trait %s: lift=%.1f conf=%.0f with=%d without=%d sig=%v rec=%s",
		effect.Label(), effect.Lift, effect.Confidence, effect.WithCount, effect.WithoutCount,
		effect.Significant, effect.Recommendation)
	return effect
}

// confidence blends sample adequacy, group balance and neighbor similarity
// into a 0-100 estimate.
func (a *Analyzer) confidence(withCount, withoutCount int, neighbors []retrieval.NeighborAd) float64 {
	ceiling := a.cfg.SampleSizeCeiling
	if ceiling <= 0 {
		ceiling = 20
	}

	total := withCount + withoutCount
	sampleFactor := float64(total) / float64(ceiling)
	if sampleFactor > 1 {
		sampleFactor = 1
	}

	// Balance rewards similar-sized groups: 0.5 (all one side) to 1.0 (even).
	smaller, larger := float64(withCount), float64(withoutCount)
	if smaller > larger {
		smaller, larger = larger, smaller
	}
	balance := 0.5 + 0.5*(smaller/larger)

	avgSim := retrieval.AvgSimilarity(neighbors)

	conf := 100 * sampleFactor * balance * avgSim
	if conf < 0 {
		return 0
	}
	if conf > 100 {
		return 100
	}
	return conf
}

func (a *Analyzer) recommend(effect TraitEffect, threshold float64) Recommendation {
	lowConf := a.cfg.LowConfidenceBelow
	if lowConf <= 0 {
		lowConf = 40
	}
	switch {
	case effect.Confidence < lowConf:
		return RecommendTest
	case math.Abs(effect.Lift) < threshold:
		return RecommendNeutral
	case effect.Lift > 0:
		return RecommendUse
	default:
		return RecommendAvoid
	}
}

// =============================================================================
// WEIGHTED AVERAGES
// =============================================================================

// scoredOnly drops neighbors without observed results; unscored ads carry
// no outcome signal.
func scoredOnly(neighbors []retrieval.NeighborAd) []retrieval.NeighborAd {
	out := neighbors[:0:0]
	for _, n := range neighbors {
		if _, ok := n.SuccessScore(); ok {
			out = append(out, n)
		}
	}
	return out
}

// weightedSuccessAvg averages success scores weighted by each neighbor's
// final (recency-weighted) similarity, falling back to a plain mean when
// all weights are zero.
func weightedSuccessAvg(neighbors []retrieval.NeighborAd) float64 {
	var weightedSum, totalWeight, plainSum float64
	count := 0
	for _, n := range neighbors {
		score, ok := n.SuccessScore()
		if !ok {
			continue
		}
		w := n.Similarity.Weighted
		weightedSum += w * score
		totalWeight += w
		plainSum += score
		count++
	}
	if count == 0 {
		return 0
	}
	if totalWeight == 0 {
		return plainSum / float64(count)
	}
	return weightedSum / totalWeight
}
