// Package embedding provides vector embedding generation for ad retrieval.
// Supports multiple backends: Ollama (local), Google GenAI (cloud), and a
// deterministic in-process fallback that is always available.
package embedding

import (
	"context"
	"fmt"

	"adorb/internal/config"
	"adorb/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// HealthChecker is an optional interface for embedding engines that support
// health checks. If an engine implements this interface, the generator can
// verify availability before attempting batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration. An empty
// provider returns nil; callers then rely on the deterministic fallback.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%q", cfg.Provider)

	switch cfg.Provider {
	case "":
		logging.Embedding("No provider configured; deterministic fallback only")
		return nil, nil
	case "ollama":
		logging.Embedding("Initializing Ollama embedding engine: endpoint=%s, model=%s", cfg.OllamaEndpoint, cfg.OllamaModel)
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		logging.Embedding("Initializing GenAI embedding engine: model=%s", cfg.GenAIModel)
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		err := fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
		logging.Get(logging.CategoryEmbedding).Error("Unsupported embedding provider: %s", cfg.Provider)
		return nil, err
	}
}
