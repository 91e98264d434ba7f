package embedding

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"adorb/internal/config"
	"adorb/internal/logging"
	"adorb/internal/orb"
)

// =============================================================================
// GENERATOR - builds canonical texts and guarantees vectors
// =============================================================================

// Generator produces the three canonical embeddings for orbs. A provider
// engine is optional; on provider absence, failure, or timeout the
// deterministic fallback is substituted, so a generated orb always carries
// vectors of a consistent dimensionality.
type Generator struct {
	engine   Engine // may be nil
	fallback *FallbackEngine
	cfg      config.EmbeddingConfig
}

// NewGenerator creates a generator around an optional provider engine.
func NewGenerator(engine Engine, cfg config.EmbeddingConfig) *Generator {
	return &Generator{
		engine:   engine,
		fallback: NewFallbackEngine(cfg.FallbackDimensions),
		cfg:      cfg,
	}
}

// ModelVersion names the engine whose vectors the generator produces.
func (g *Generator) ModelVersion() string {
	if g.engine != nil {
		return g.engine.Name()
	}
	return g.fallback.Name()
}

// EnsureDerived populates o.Derived with facets, canonical texts and the
// three embeddings. Existing derived data is regenerated; Raw is untouched.
func (g *Generator) EnsureDerived(ctx context.Context, o *orb.Orb) error {
	timer := logging.StartTimer(logging.CategoryEmbedding, "EnsureDerived")
	defer timer.Stop()

	var facets map[string]string
	if o.Raw != nil {
		facets = DeriveFacets(o.Raw.Analysis)
	}
	if o.Derived == nil {
		o.Derived = &orb.Derived{}
	}
	o.Derived.Facets = facets

	texts := BuildCanonicalTexts(o)
	o.Derived.CreativeText = texts.Creative
	o.Derived.ScriptText = texts.Script
	o.Derived.VisualText = texts.Visual

	o.Derived.CreativeEmbedding = g.EmbedText(ctx, texts.Creative)
	o.Derived.ScriptEmbedding = g.EmbedText(ctx, texts.Script)
	o.Derived.VisualEmbedding = g.EmbedText(ctx, texts.Visual)

	o.Derived.EmbeddingModel = g.ModelVersion()
	o.Derived.DerivedAt = time.Now().UTC()

	logging.EmbeddingDebug("Derived orb %s: creative=%d script=%d visual=%d dims",
		o.ID, len(o.Derived.CreativeEmbedding), len(o.Derived.ScriptEmbedding), len(o.Derived.VisualEmbedding))
	return nil
}

// FlattenEntry converts an upstream ad record into a retrieval-ready AdOrb:
// the flattened traits plus the canonical text and blended embedding derived
// from its analysis. FromAdEntry alone carries traits only; queries built
// here always reach the similarity scorer.
func (g *Generator) FlattenEntry(ctx context.Context, e *orb.AdEntry) (*orb.AdOrb, error) {
	ad := orb.FromAdEntry(e)

	tmp := &orb.Orb{
		ID: e.ID,
		Spec: orb.Spec{
			Platform:  e.Platform,
			Objective: e.Objective,
			CTA:       e.CTAText,
		},
		Raw: &orb.Raw{Analysis: e.Analysis, CreatedAt: e.CreatedAt},
	}
	if err := g.EnsureDerived(ctx, tmp); err != nil {
		return ad, err
	}

	d := tmp.Derived
	ad.CanonicalText = d.CreativeText
	ad.Embedding = orb.BlendEmbeddings(d.CreativeEmbedding, d.ScriptEmbedding, d.VisualEmbedding)
	return ad, nil
}

// EmbedText embeds one text, substituting the deterministic fallback on
// provider absence, error, or timeout. It always returns a usable vector.
func (g *Generator) EmbedText(ctx context.Context, text string) []float32 {
	if g.engine == nil {
		vec, _ := g.fallback.Embed(ctx, text)
		return vec
	}

	timeout := time.Duration(g.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	vec, err := g.embedWithTimeout(ctx, text, timeout)
	if err != nil {
		logging.EmbeddingWarn("Provider embed failed (%v), using deterministic fallback", err)
		vec, _ = g.fallback.Embed(ctx, text)
	}
	return vec
}

// embedWithTimeout races the provider against a timer. When the timer wins
// the provider goroutine is abandoned; its eventual result is discarded.
func (g *Generator) embedWithTimeout(ctx context.Context, text string, timeout time.Duration) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vec, err := g.engine.Embed(ctx, text)
		ch <- result{vec, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if len(r.vec) == 0 {
			return nil, context.DeadlineExceeded
		}
		return r.vec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GenerateBatch derives embeddings for many orbs in fixed-size batches,
// parallelizing within a batch and sleeping briefly between batches as a
// cooperative backoff against provider rate limits. Per-orb failures do not
// abort the batch (EnsureDerived cannot fail today, but the isolation is
// part of the contract).
func (g *Generator) GenerateBatch(ctx context.Context, orbs []*orb.Orb) error {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenerateBatch")
	defer timer.Stop()

	batchSize := g.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	delay := time.Duration(g.cfg.BatchDelayMS) * time.Millisecond

	logging.Embedding("Generating embeddings for %d orbs (batch=%d, delay=%v)", len(orbs), batchSize, delay)

	for start := 0; start < len(orbs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + batchSize
		if end > len(orbs) {
			end = len(orbs)
		}

		eg, batchCtx := errgroup.WithContext(ctx)
		for _, o := range orbs[start:end] {
			o := o
			eg.Go(func() error {
				return g.EnsureDerived(batchCtx, o)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		if end < len(orbs) && delay > 0 {
			time.Sleep(delay)
		}
	}

	return nil
}
