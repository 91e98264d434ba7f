// Package pipeline runs the full prediction flow behind a safety wrapper.
// SafePredict never returns an error and never panics: any failure inside
// the retrieval path degrades to the legacy estimate with an explicit
// fallback reason, because a worse prediction is acceptable and a crashed
// prediction endpoint is not.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"adorb/internal/config"
	"adorb/internal/contrastive"
	"adorb/internal/embedding"
	"adorb/internal/explain"
	"adorb/internal/logging"
	"adorb/internal/marketplace"
	"adorb/internal/orb"
	"adorb/internal/prediction"
	"adorb/internal/retrieval"
)

// Prediction methods.
const (
	MethodRetrieval = "retrieval"
	MethodHybrid    = "hybrid"
	MethodLegacy    = "legacy"
)

// Fallback reasons. Empty means the retrieval path ran at full strength.
const (
	ReasonRAGDisabled           = "rag_disabled"
	ReasonInsufficientNeighbors = "insufficient_neighbors"
	ReasonLowSimilarity         = "low_similarity"
	ReasonHighVariance          = "high_variance"
	ReasonMissingEmbeddings     = "missing_embeddings"
	ReasonTimeout               = "timeout"
	ReasonError                 = "error"
	ReasonInvalidScore          = "invalid_score"
)

// LegacyPredictor is the pre-existing scoring model the retrieval path
// blends against and falls back to.
type LegacyPredictor interface {
	Predict(ctx context.Context, ad *orb.AdOrb) (score, confidence float64, err error)
}

// NeutralLegacy is the no-model baseline: a flat neutral score with zero
// confidence. Used when no real legacy predictor is wired in.
type NeutralLegacy struct {
	Score float64
}

// Predict returns the configured neutral score.
func (n NeutralLegacy) Predict(context.Context, *orb.AdOrb) (float64, float64, error) {
	s := n.Score
	if s <= 0 {
		s = 50
	}
	return s, 0, nil
}

// Result is one prediction with its full evidence trail.
type Result struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`

	FallbackReason string  `json:"fallback_reason,omitempty"`
	BlendAlpha     float64 `json:"blend_alpha"`
	RetrievalScore float64 `json:"retrieval_score"`
	LegacyScore    float64 `json:"legacy_score"`

	NeighborCount int     `json:"neighbor_count"`
	AvgSimilarity float64 `json:"avg_similarity"`

	Neighbors []retrieval.NeighborAd `json:"-"`
	Analysis  *contrastive.Analysis  `json:"analysis,omitempty"`
	Gaps      []marketplace.DataNeed `json:"gaps,omitempty"`
	Matches   []marketplace.Match    `json:"matches,omitempty"`

	Explanation *explain.Explanation `json:"explanation,omitempty"`

	ComputeTime time.Duration `json:"compute_time"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg       *config.Config
	generator *embedding.Generator
	retriever *retrieval.Retriever
	analyzer  *contrastive.Analyzer
	predictor *prediction.Predictor
	detector  *marketplace.Detector
	matcher   *marketplace.Matcher
	explainer *explain.Generator
	legacy    LegacyPredictor

	// datasets is the marketplace catalog matched against detected gaps.
	datasets []marketplace.Dataset
}

// New builds a pipeline. A nil legacy predictor gets the neutral baseline.
func New(cfg *config.Config, source retrieval.CandidateSource, gen *embedding.Generator, legacy LegacyPredictor) *Pipeline {
	if legacy == nil {
		legacy = NeutralLegacy{Score: cfg.Prediction.DefaultScore}
	}
	return &Pipeline{
		cfg:       cfg,
		generator: gen,
		retriever: retrieval.NewRetriever(source, gen, cfg.Retrieval),
		analyzer:  contrastive.NewAnalyzer(cfg.Contrastive),
		predictor: prediction.NewPredictor(cfg.Prediction, cfg.Retrieval),
		detector:  marketplace.NewDetector(cfg.Marketplace, cfg.Retrieval),
		matcher:   marketplace.NewMatcher(cfg.Marketplace),
		explainer: explain.NewGenerator(),
		legacy:    legacy,
	}
}

// RegisterDatasets sets the marketplace catalog used for gap matching.
func (p *Pipeline) RegisterDatasets(datasets []marketplace.Dataset) {
	p.datasets = datasets
}

// SafePredict predicts the success score for one ad. It never returns an
// error: every failure mode inside collapses to the legacy estimate with a
// fallback reason recorded on the result.
func (p *Pipeline) SafePredict(ctx context.Context, ad *orb.AdOrb) (result *Result) {
	start := time.Now()

	legacyScore, legacyConf := p.safeLegacy(ctx, ad)

	defer func() {
		if r := recover(); r != nil {
			logging.PipelineWarn("Prediction panicked, falling back to legacy: %v", r)
			result = p.legacyResult(legacyScore, legacyConf, ReasonError)
		}
		result.ComputeTime = time.Since(start)
		logging.Pipeline("Prediction: score=%.1f conf=%.0f method=%s reason=%s alpha=%.2f neighbors=%d took=%s",
			result.Score, result.Confidence, result.Method, result.FallbackReason,
			result.BlendAlpha, result.NeighborCount, result.ComputeTime)
	}()

	if ad == nil {
		return p.legacyResult(legacyScore, legacyConf, ReasonError)
	}

	if !p.cfg.Features.RetrievalPrediction {
		return p.legacyResult(legacyScore, legacyConf, ReasonRAGDisabled)
	}

	timeout := time.Duration(p.cfg.Pipeline.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ragCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type ragOutcome struct {
		result *Result
		err    error
	}
	done := make(chan ragOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ragOutcome{err: fmt.Errorf("rag path panicked: %v", r)}
			}
		}()
		res, err := p.ragPredict(ragCtx, ad, legacyScore, legacyConf)
		done <- ragOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			logging.PipelineWarn("Retrieval path failed, using legacy: %v", out.err)
			return p.legacyResult(legacyScore, legacyConf, ReasonError)
		}
		return out.result
	case <-ragCtx.Done():
		// The goroutine is abandoned; its buffered send cannot block.
		logging.PipelineWarn("Retrieval path exceeded %s, using legacy", timeout)
		return p.legacyResult(legacyScore, legacyConf, ReasonTimeout)
	}
}

// PredictBatch predicts each ad independently. One bad ad never poisons the
// rest; SafePredict already isolates every failure mode per item.
func (p *Pipeline) PredictBatch(ctx context.Context, ads []*orb.AdOrb) []*Result {
	results := make([]*Result, len(ads))
	for i, ad := range ads {
		results[i] = p.SafePredict(ctx, ad)
	}
	logging.Pipeline("Batch prediction complete: %d ads", len(ads))
	return results
}

// ragPredict runs the full retrieval path. Errors and degraded evidence are
// reported, not swallowed; SafePredict decides what to do with them.
func (p *Pipeline) ragPredict(ctx context.Context, ad *orb.AdOrb, legacyScore, legacyConf float64) (*Result, error) {
	if len(ad.Embedding) == 0 && ad.CanonicalText == "" {
		logging.PipelineDebug("Ad %s has no embedding and no canonical text", ad.ID)
		res := p.legacyResult(legacyScore, legacyConf, ReasonMissingEmbeddings)
		// The missing query vector is itself a data gap worth reporting.
		p.attachEvidence(res, ad, nil, nil)
		return res, nil
	}

	neighbors, err := p.retriever.Retrieve(ctx, ad, p.cfg.Retrieval.TopK, retrieval.Filters{RequireResults: true})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	if !retrieval.HasEnoughNeighbors(neighbors, p.cfg.Retrieval) {
		reason := ReasonInsufficientNeighbors
		if len(neighbors) >= p.cfg.Retrieval.MinNeighbors {
			reason = ReasonLowSimilarity
		}
		res := p.legacyResult(legacyScore, legacyConf, reason)
		res.NeighborCount = len(neighbors)
		res.AvgSimilarity = retrieval.AvgSimilarity(neighbors)
		res.Neighbors = neighbors
		p.attachEvidence(res, ad, neighbors, nil)
		return res, nil
	}

	var analysis *contrastive.Analysis
	if p.cfg.Features.ContrastiveAnalysis {
		analysis = p.analyzer.Analyze(neighbors)
	}

	ragScore := p.predictor.WeightedPrediction(neighbors)
	if analysis != nil {
		ragScore = p.predictor.AdjustWithContrastive(ragScore, analysis)
	}
	if !validScore(ragScore) {
		res := p.legacyResult(legacyScore, legacyConf, ReasonInvalidScore)
		res.NeighborCount = len(neighbors)
		res.Neighbors = neighbors
		return res, nil
	}

	alpha := p.predictor.BlendAlpha(neighbors)
	ragConf := p.predictor.Confidence(neighbors)

	res := &Result{
		Score:          clamp(alpha*ragScore + (1-alpha)*legacyScore),
		Confidence:     clamp(alpha*ragConf + (1-alpha)*legacyConf),
		Method:         p.method(alpha),
		BlendAlpha:     alpha,
		RetrievalScore: ragScore,
		LegacyScore:    legacyScore,
		NeighborCount:  len(neighbors),
		AvgSimilarity:  retrieval.AvgSimilarity(neighbors),
		Neighbors:      neighbors,
		Analysis:       analysis,
	}

	if res.Method == MethodLegacy {
		// Alpha collapsed despite passing the neighbor gate; record why.
		varCeiling := p.cfg.Prediction.VarianceCeiling
		if varCeiling <= 0 {
			varCeiling = 15
		}
		if p.predictor.StdDev(neighbors) > varCeiling {
			res.FallbackReason = ReasonHighVariance
		} else {
			res.FallbackReason = ReasonLowSimilarity
		}
	}

	p.attachEvidence(res, ad, neighbors, analysis)
	return res, nil
}

// attachEvidence adds marketplace hints and the explanation to a result.
func (p *Pipeline) attachEvidence(res *Result, ad *orb.AdOrb, neighbors []retrieval.NeighborAd, analysis *contrastive.Analysis) {
	if p.cfg.Features.MarketplaceHints {
		res.Gaps = p.detector.DetectGaps(neighbors, analysis, ad.Metadata.Platform)
		if len(p.datasets) > 0 {
			res.Matches = p.matcher.MatchDatasets(res.Gaps, p.datasets)
		}
	}

	res.Explanation = p.explainer.Generate(explain.Input{
		Score:      res.Score,
		Confidence: res.Confidence,
		Method:     res.Method,
		Neighbors:  neighbors,
		Analysis:   analysis,
		Gaps:       res.Gaps,
		Matches:    res.Matches,
	})
}

// method maps the blend alpha to the reported prediction method.
func (p *Pipeline) method(alpha float64) string {
	pure := p.cfg.Prediction.PureRetrievalAlpha
	if pure <= 0 {
		pure = 0.9
	}
	legacy := p.cfg.Prediction.PureLegacyAlpha
	if legacy <= 0 {
		legacy = 0.3
	}
	switch {
	case alpha >= pure:
		return MethodRetrieval
	case alpha >= legacy:
		return MethodHybrid
	default:
		return MethodLegacy
	}
}

// safeLegacy calls the legacy predictor with its own recover and score
// validation. The legacy baseline must always exist.
func (p *Pipeline) safeLegacy(ctx context.Context, ad *orb.AdOrb) (score, conf float64) {
	def := p.cfg.Prediction.DefaultScore
	if def <= 0 {
		def = 50
	}

	defer func() {
		if r := recover(); r != nil {
			logging.PipelineWarn("Legacy predictor panicked: %v", r)
			score, conf = def, 0
		}
	}()

	s, c, err := p.legacy.Predict(ctx, ad)
	if err != nil {
		logging.PipelineDebug("Legacy predictor error: %v", err)
		return def, 0
	}
	if !validScore(s) {
		logging.PipelineWarn("Legacy predictor returned invalid score %v", s)
		return def, 0
	}
	return s, clamp(c)
}

func (p *Pipeline) legacyResult(score, conf float64, reason string) *Result {
	return &Result{
		Score:          score,
		Confidence:     conf,
		Method:         MethodLegacy,
		FallbackReason: reason,
		LegacyScore:    score,
	}
}

// validScore rejects non-finite or out-of-range scores before they reach a
// caller.
func validScore(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && s >= 0 && s <= 100
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
