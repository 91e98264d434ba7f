// Package retrieval finds the historical ads most similar to a query ad.
// It filters candidates, scores every survivor with the hybrid similarity
// scorer, and returns the top-K as neighbors for downstream analysis.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"adorb/internal/config"
	"adorb/internal/logging"
	"adorb/internal/orb"
	"adorb/internal/similarity"
)

// NeighborAd is a candidate ad plus its similarity breakdown against one
// query. Neighbors are created per retrieval call and never persisted.
type NeighborAd struct {
	Ad         *orb.AdOrb
	Similarity similarity.Score
}

// SuccessScore returns the neighbor's normalized outcome and whether one exists.
func (n *NeighborAd) SuccessScore() (float64, bool) {
	return n.Ad.SuccessScore()
}

// Filters narrows the candidate set before scoring.
type Filters struct {
	Platform        string
	Objective       string
	MaxAgeDays      int
	MinSuccessScore float64
	RequireResults  bool
}

// CandidateSource supplies flattened candidate ads. Satisfied by the orb
// stores.
type CandidateSource interface {
	ListAdOrbs(ctx context.Context, resultsOnly bool) ([]*orb.AdOrb, error)
}

// QueryEmbedder supplies an embedding for a query that lacks one.
// Satisfied by *embedding.Generator.
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) []float32
}

// Retriever scores and ranks candidates for a query ad.
type Retriever struct {
	source   CandidateSource
	embedder QueryEmbedder
	scorer   *similarity.Scorer
	cfg      config.RetrievalConfig
}

// NewRetriever creates a retriever. The embedder may be nil if queries are
// guaranteed to carry embeddings already.
func NewRetriever(source CandidateSource, embedder QueryEmbedder, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{
		source:   source,
		embedder: embedder,
		scorer:   similarity.NewScorer(cfg),
		cfg:      cfg,
	}
}

// Retrieve returns the top-k neighbors for the query. Self-matches are
// excluded, candidates scoring below the configured minimum similarity are
// dropped, and the remainder is ranked by recency-weighted hybrid
// similarity.
func (r *Retriever) Retrieve(ctx context.Context, query *orb.AdOrb, k int, f Filters) ([]NeighborAd, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()

	if query == nil {
		return nil, fmt.Errorf("retrieve: nil query")
	}
	if k <= 0 {
		k = r.cfg.TopK
	}
	if k <= 0 {
		k = 10
	}

	// Ensure the query has an embedding before scoring.
	if len(query.Embedding) == 0 && query.CanonicalText != "" && r.embedder != nil {
		logging.RetrievalDebug("Query %s missing embedding, generating from canonical text", query.ID)
		query.Embedding = r.embedder.EmbedText(ctx, query.CanonicalText)
	}

	candidates, err := r.source.ListAdOrbs(ctx, f.RequireResults)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	logging.RetrievalDebug("Scoring %d candidates for query %s (k=%d)", len(candidates), query.ID, k)

	neighbors := make([]NeighborAd, 0, len(candidates))
	dropped := 0
	for _, c := range candidates {
		if c.ID == query.ID {
			continue
		}
		if !matchesFilters(c, f) {
			continue
		}

		score := r.scorer.Score(query, c)
		if score.Hybrid < r.cfg.MinSimilarity {
			dropped++
			continue
		}
		neighbors = append(neighbors, NeighborAd{Ad: c, Similarity: score})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity.Weighted > neighbors[j].Similarity.Weighted
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}

	logging.Retrieval("Retrieved %d neighbors for %s (dropped %d below min similarity %.2f)",
		len(neighbors), query.ID, dropped, r.cfg.MinSimilarity)
	return neighbors, nil
}

func matchesFilters(c *orb.AdOrb, f Filters) bool {
	if f.RequireResults && c.Results == nil {
		return false
	}
	if f.Platform != "" && c.Metadata.Platform != f.Platform {
		return false
	}
	if f.Objective != "" && c.Metadata.Objective != f.Objective {
		return false
	}
	if f.MaxAgeDays > 0 {
		if c.Metadata.CreatedAt.IsZero() {
			return false
		}
		age := time.Since(c.Metadata.CreatedAt)
		if age > time.Duration(f.MaxAgeDays)*24*time.Hour {
			return false
		}
	}
	if f.MinSuccessScore > 0 {
		score, ok := c.SuccessScore()
		if !ok || score < f.MinSuccessScore {
			return false
		}
	}
	return true
}

// =============================================================================
// NEIGHBOR SET HELPERS
// =============================================================================

// HasEnoughNeighbors is the single sufficiency gate used by every consumer
// of a neighbor set: enough neighbors AND high enough average similarity.
func HasEnoughNeighbors(neighbors []NeighborAd, cfg config.RetrievalConfig) bool {
	if len(neighbors) < cfg.MinNeighbors {
		return false
	}
	return AvgSimilarity(neighbors) >= cfg.MinSimilarity
}

// AvgSimilarity returns the mean hybrid similarity of a neighbor set.
func AvgSimilarity(neighbors []NeighborAd) float64 {
	if len(neighbors) == 0 {
		return 0
	}
	var sum float64
	for _, n := range neighbors {
		sum += n.Similarity.Hybrid
	}
	return sum / float64(len(neighbors))
}

// AvgRecency returns the mean recency weight of a neighbor set.
func AvgRecency(neighbors []NeighborAd) float64 {
	if len(neighbors) == 0 {
		return 0
	}
	var sum float64
	for _, n := range neighbors {
		sum += n.Similarity.Recency
	}
	return sum / float64(len(neighbors))
}
