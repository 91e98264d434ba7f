// Package prediction turns a neighbor set into a success-score prediction
// with an explicit confidence estimate and a blend alpha that says how much
// the retrieval evidence should count against the fallback model.
package prediction

import (
	"math"

	"adorb/internal/config"
	"adorb/internal/contrastive"
	"adorb/internal/logging"
	"adorb/internal/retrieval"
)

// lowSimilarityAlphaCut halves the blend alpha when average similarity
// falls below it; highVarianceAlphaFactor shrinks alpha when neighbor
// outcomes disagree. Tunable heuristics, not invariants.
const (
	lowSimilarityAlphaCut   = 0.5
	highVarianceAlphaFactor = 0.7
)

// Predictor computes neighbor-weighted predictions.
type Predictor struct {
	cfg          config.PredictionConfig
	retrievalCfg config.RetrievalConfig
}

// NewPredictor creates a predictor.
func NewPredictor(cfg config.PredictionConfig, retrievalCfg config.RetrievalConfig) *Predictor {
	return &Predictor{cfg: cfg, retrievalCfg: retrievalCfg}
}

// WeightedPrediction is the similarity-weighted average of neighbor success
// scores, clamped to [0,100]. Any degenerate input (no scored neighbors,
// zero total weight, non-finite result) yields the configured neutral
// default instead of garbage.
func (p *Predictor) WeightedPrediction(neighbors []retrieval.NeighborAd) float64 {
	def := p.defaultScore()

	var weightedSum, totalWeight float64
	for _, n := range neighbors {
		score, ok := n.SuccessScore()
		if !ok {
			continue
		}
		w := n.Similarity.Weighted
		weightedSum += w * score
		totalWeight += w
	}

	if totalWeight == 0 {
		return def
	}
	result := weightedSum / totalWeight
	if math.IsNaN(result) || math.IsInf(result, 0) {
		logging.Get(logging.CategoryPrediction).Warn("Non-finite weighted prediction, using default %.0f", def)
		return def
	}
	return clampScore(result)
}

// StdDev is the sample standard deviation of neighbor success scores.
// Fewer than two scored neighbors yields 0.
func (p *Predictor) StdDev(neighbors []retrieval.NeighborAd) float64 {
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

// Confidence estimates prediction reliability on a 0-100 scale, blending
// sample size (35%), average similarity (35%), variance penalty (15%) and
// average recency (15%).
func (p *Predictor) Confidence(neighbors []retrieval.NeighborAd) float64 {
	if len(neighbors) == 0 {
		return 0
	}

	ceiling := p.cfg.SampleSizeCeiling
	if ceiling <= 0 {
		ceiling = 15
	}
	sampleFactor := float64(len(neighbors)) / float64(ceiling)
	if sampleFactor > 1 {
		sampleFactor = 1
	}

	avgSim := retrieval.AvgSimilarity(neighbors)
	avgRecency := retrieval.AvgRecency(neighbors)

	variancePenalty := 1.0
	stddev := p.StdDev(neighbors)
	varCeiling := p.cfg.VarianceCeiling
	if varCeiling <= 0 {
		varCeiling = 15
	}
	if stddev > varCeiling {
		variancePenalty = varCeiling / stddev
	}

	conf := 100 * (sampleFactor*0.35 + avgSim*0.35 + variancePenalty*0.15 + avgRecency*0.15)
	return clampScore(conf)
}

// BlendAlpha is the weight given to the retrieval-based score versus the
// fallback score. It starts at the configured base and shrinks for thin
// neighbor counts, low average similarity and high outcome variance;
// below the minimum neighbor count it is forced to zero.
func (p *Predictor) BlendAlpha(neighbors []retrieval.NeighborAd) float64 {
	minNeighbors := p.retrievalCfg.MinNeighbors
	if minNeighbors <= 0 {
		minNeighbors = 5
	}
	if len(neighbors) < minNeighbors {
		return 0
	}

	alpha := p.cfg.BaseBlendAlpha
	if alpha <= 0 {
		alpha = 0.7
	}

	ceiling := p.cfg.SampleSizeCeiling
	if ceiling <= 0 {
		ceiling = 15
	}
	if len(neighbors) < ceiling {
		alpha *= float64(len(neighbors)) / float64(ceiling)
	}

	if retrieval.AvgSimilarity(neighbors) < lowSimilarityAlphaCut {
		alpha /= 2
	}

	varCeiling := p.cfg.VarianceCeiling
	if varCeiling <= 0 {
		varCeiling = 15
	}
	if p.StdDev(neighbors) > varCeiling {
		alpha *= highVarianceAlphaFactor
	}

	if alpha < 0 {
		return 0
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}

// AdjustWithContrastive layers confidence-weighted, dampened trait lifts
// from the strongest significant effects onto a base prediction, then
// re-clamps to [0,100].
func (p *Predictor) AdjustWithContrastive(base float64, analysis *contrastive.Analysis) float64 {
	if analysis == nil {
		return clampScore(base)
	}

	damping := p.cfg.ContrastiveDamping
	if damping <= 0 {
		damping = 0.5
	}

	adjusted := base
	for _, e := range analysis.TopPositive {
		adjusted += e.Lift * (e.Confidence / 100) * damping
	}
	for _, e := range analysis.TopNegative {
		adjusted += e.Lift * (e.Confidence / 100) * damping
	}

	logging.PredictionDebug("Contrastive adjustment: %.1f -> %.1f (%d positive, %d negative effects)",
		base, adjusted, len(analysis.TopPositive), len(analysis.TopNegative))
	return clampScore(adjusted)
}

func (p *Predictor) defaultScore() float64 {
	if p.cfg.DefaultScore > 0 {
		return p.cfg.DefaultScore
	}
	return 50
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 50
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
