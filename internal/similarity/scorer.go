package similarity

import (
	"math"
	"time"

	"adorb/internal/config"
	"adorb/internal/orb"
)

// Score is the full similarity breakdown for one query/candidate pair.
type Score struct {
	Vector     float64 // cosine, normalized to [0,1]
	Structured float64 // weighted trait overlap
	Hybrid     float64 // vectorWeight*Vector + structuredWeight*Structured
	Recency    float64 // exponential age decay, floored
	Weighted   float64 // Hybrid * Recency: the final ranking weight
}

// Scorer combines vector, structured and recency signals per the
// configured weights.
type Scorer struct {
	cfg config.RetrievalConfig
	now func() time.Time
}

// NewScorer creates a scorer from retrieval configuration.
func NewScorer(cfg config.RetrievalConfig) *Scorer {
	return &Scorer{cfg: cfg, now: time.Now}
}

// Score computes the full similarity breakdown between a query and a
// candidate ad.
func (s *Scorer) Score(query, candidate *orb.AdOrb) Score {
	vec := VectorSimilarity(query.Embedding, candidate.Embedding)
	structured := StructuredSimilarity(query, candidate)

	vw, sw := s.cfg.VectorWeight, s.cfg.StructuredWeight
	if vw+sw == 0 {
		vw, sw = 0.6, 0.4
	}
	hybrid := vw*vec + sw*structured

	recency := s.RecencyWeight(candidate.Metadata.CreatedAt)

	return Score{
		Vector:     vec,
		Structured: structured,
		Hybrid:     hybrid,
		Recency:    recency,
		Weighted:   hybrid * recency,
	}
}

// RecencyWeight applies exponential decay with the configured half-life,
// floored so old ads never vanish entirely. An unset timestamp is treated
// as maximally stale.
func (s *Scorer) RecencyWeight(createdAt time.Time) float64 {
	halfLife := s.cfg.RecencyHalfLifeDays
	if halfLife <= 0 {
		halfLife = 30
	}
	floor := s.cfg.RecencyFloor
	if floor <= 0 {
		floor = 0.1
	}

	if createdAt.IsZero() {
		return floor
	}

	ageDays := s.now().Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	weight := math.Pow(0.5, ageDays/halfLife)
	if weight < floor {
		return floor
	}
	return weight
}
