package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// =============================================================================
// DETERMINISTIC FALLBACK ENGINE
// =============================================================================

// DefaultFallbackDimensions is the vector size of the deterministic embedder.
const DefaultFallbackDimensions = 384

// FallbackEngine produces deterministic embeddings without any external
// provider. Identical text always yields an identical vector, so retrieval
// stays reproducible when the provider is down. The vectors carry only
// crude lexical signal; they are a stand-in, not a real embedding model.
//
// Construction: character-position sine terms spread each rune across the
// vector, then hashed unigram and bigram contributions add token-level
// structure. The result is L2-normalized.
type FallbackEngine struct {
	dim int
}

// NewFallbackEngine creates a deterministic embedder with the given
// dimensionality (DefaultFallbackDimensions if non-positive).
func NewFallbackEngine(dim int) *FallbackEngine {
	if dim <= 0 {
		dim = DefaultFallbackDimensions
	}
	return &FallbackEngine{dim: dim}
}

// Embed generates a deterministic embedding. It never fails.
func (e *FallbackEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, e.dim)

	// Character-position sine terms.
	for i, r := range text {
		idx := i % e.dim
		vec[idx] += math.Sin(float64(r)*0.3 + float64(i)*0.05)
	}

	// Hashed unigram and bigram contributions.
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		vec[hashToken(w)%uint32(e.dim)] += 1.0
	}
	for i := 0; i+1 < len(words); i++ {
		vec[hashToken(words[i]+" "+words[i+1])%uint32(e.dim)] += 0.5
	}

	return l2Normalize(vec), nil
}

// EmbedBatch generates deterministic embeddings for multiple texts.
func (e *FallbackEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *FallbackEngine) Dimensions() int {
	return e.dim
}

// Name returns the engine name.
func (e *FallbackEngine) Name() string {
	return "fallback:deterministic-v1"
}

func hashToken(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func l2Normalize(vec []float64) []float32 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
