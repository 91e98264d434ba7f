// Package config holds all adorb configuration.
// Configuration is loaded once into an immutable struct and threaded
// explicitly through every constructor; nothing reads the environment
// after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all adorb configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Feature gates (all conservative by default)
	Features FeaturesConfig `yaml:"features"`

	// Pipeline stages
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Contrastive ContrastiveConfig `yaml:"contrastive"`
	Prediction  PredictionConfig  `yaml:"prediction"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`

	// Storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// FeaturesConfig gates optional behavior. Everything defaults OFF or
// conservative; the safety wrapper consults these, nothing else does.
type FeaturesConfig struct {
	RetrievalPrediction bool `yaml:"retrieval_prediction"` // RAG path enabled
	ContrastiveAnalysis bool `yaml:"contrastive_analysis"` // trait-lift adjustment
	MarketplaceHints    bool `yaml:"marketplace_hints"`    // data-gap suggestions
	DebugLogging        bool `yaml:"debug_logging"`
}

// EmbeddingConfig configures embedding generation.
type EmbeddingConfig struct {
	// Provider: "genai", "ollama" or "" (deterministic fallback only)
	Provider string `yaml:"provider"`

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	// Fallback embedder dimensionality
	FallbackDimensions int `yaml:"fallback_dimensions"`

	// Per-call timeout for the provider (ms); the deterministic fallback
	// takes over when this expires.
	TimeoutMS int `yaml:"timeout_ms"`

	// Batch generation
	BatchSize    int `yaml:"batch_size"`
	BatchDelayMS int `yaml:"batch_delay_ms"`
}

// RetrievalConfig configures similarity scoring and neighbor retrieval.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinNeighbors  int     `yaml:"min_neighbors"`
	MinSimilarity float64 `yaml:"min_similarity"`

	// Hybrid similarity weights
	VectorWeight     float64 `yaml:"vector_weight"`
	StructuredWeight float64 `yaml:"structured_weight"`

	// Recency decay
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days"`
	RecencyFloor        float64 `yaml:"recency_floor"`
}

// ContrastiveConfig configures trait-lift analysis.
type ContrastiveConfig struct {
	MinSampleSize         int     `yaml:"min_sample_size"`           // significance gate per group
	MinSampleSizePerGroup int     `yaml:"min_sample_size_per_group"` // hard evidence guard
	SignificanceThreshold float64 `yaml:"significance_threshold"`    // min |lift| for significance
	MaxAbsoluteLift       float64 `yaml:"max_absolute_lift"`         // outlier clamp
	SampleSizeCeiling     int     `yaml:"sample_size_ceiling"`       // confidence saturation point
	LowConfidenceBelow    float64 `yaml:"low_confidence_below"`      // bucket threshold
	TopEffects            int     `yaml:"top_effects"`               // per positive/negative bucket
}

// PredictionConfig configures neighbor-weighted prediction.
type PredictionConfig struct {
	DefaultScore       float64 `yaml:"default_score"`        // neutral fallback score
	SampleSizeCeiling  int     `yaml:"sample_size_ceiling"`  // confidence saturation point
	VarianceCeiling    float64 `yaml:"variance_ceiling"`     // std-dev above this penalizes
	BaseBlendAlpha     float64 `yaml:"base_blend_alpha"`     // starting retrieval weight
	ContrastiveDamping float64 `yaml:"contrastive_damping"`  // lift adjustment damping
	PureRetrievalAlpha float64 `yaml:"pure_retrieval_alpha"` // alpha >= this: pure retrieval
	PureLegacyAlpha    float64 `yaml:"pure_legacy_alpha"`    // alpha < this: pure legacy
}

// PipelineConfig configures the safety wrapper.
type PipelineConfig struct {
	TimeoutMS          int `yaml:"timeout_ms"`           // hard ceiling on the RAG path
	EmbeddingTimeoutMS int `yaml:"embedding_timeout_ms"` // sub-search / embedding ceiling
}

// MarketplaceConfig configures gap detection and dataset matching.
type MarketplaceConfig struct {
	MinMatchScore     float64 `yaml:"min_match_score"`
	MaxSuggestions    int     `yaml:"max_suggestions"`
	RequiredPlatform  int     `yaml:"required_platform_samples"`
	RequiredTrait     int     `yaml:"required_trait_samples"`
	RequiredNeighbors int     `yaml:"required_neighbor_samples"`
	MaxConfidenceGain float64 `yaml:"max_confidence_gain"`
}

// StoreConfig configures orb persistence.
type StoreConfig struct {
	// Backend: "sqlite" or "memory"
	Backend      string `yaml:"backend"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "adorb",
		Version: "0.3.0",

		Features: FeaturesConfig{
			RetrievalPrediction: false,
			ContrastiveAnalysis: false,
			MarketplaceHints:    false,
			DebugLogging:        false,
		},

		Embedding: EmbeddingConfig{
			Provider:           "",
			OllamaEndpoint:     "http://localhost:11434",
			OllamaModel:        "embeddinggemma",
			GenAIModel:         "gemini-embedding-001",
			FallbackDimensions: 384,
			TimeoutMS:          3000,
			BatchSize:          5,
			BatchDelayMS:       100,
		},

		Retrieval: RetrievalConfig{
			TopK:                10,
			MinNeighbors:        5,
			MinSimilarity:       0.3,
			VectorWeight:        0.6,
			StructuredWeight:    0.4,
			RecencyHalfLifeDays: 30,
			RecencyFloor:        0.1,
		},

		Contrastive: ContrastiveConfig{
			MinSampleSize:         5,
			MinSampleSizePerGroup: 3,
			SignificanceThreshold: 5,
			MaxAbsoluteLift:       50,
			SampleSizeCeiling:     20,
			LowConfidenceBelow:    40,
			TopEffects:            5,
		},

		Prediction: PredictionConfig{
			DefaultScore:       50,
			SampleSizeCeiling:  15,
			VarianceCeiling:    15,
			BaseBlendAlpha:     0.7,
			ContrastiveDamping: 0.5,
			PureRetrievalAlpha: 0.9,
			PureLegacyAlpha:    0.3,
		},

		Pipeline: PipelineConfig{
			TimeoutMS:          5000,
			EmbeddingTimeoutMS: 2000,
		},

		Marketplace: MarketplaceConfig{
			MinMatchScore:     40,
			MaxSuggestions:    3,
			RequiredPlatform:  5,
			RequiredTrait:     8,
			RequiredNeighbors: 10,
			MaxConfidenceGain: 30,
		},

		Store: StoreConfig{
			Backend:      "sqlite",
			DatabasePath: "data/adorb.db",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides at load time.
// This is the only place the environment is consulted.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if url := os.Getenv("ADORB_OLLAMA_URL"); url != "" {
		c.Embedding.OllamaEndpoint = url
	}
	if path := os.Getenv("ADORB_DB_PATH"); path != "" {
		c.Store.DatabasePath = path
	}
	if v := os.Getenv("ADORB_RAG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Features.RetrievalPrediction = b
		}
	}
	if v := os.Getenv("ADORB_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Features.DebugLogging = b
			c.Logging.DebugMode = b
		}
	}
}

// Validate checks configuration consistency before the pipeline is built.
func (c *Config) Validate() error {
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.StructuredWeight < 0 {
		return fmt.Errorf("similarity weights must be non-negative")
	}
	if c.Retrieval.VectorWeight+c.Retrieval.StructuredWeight == 0 {
		return fmt.Errorf("at least one similarity weight must be positive")
	}
	if c.Prediction.BaseBlendAlpha < 0 || c.Prediction.BaseBlendAlpha > 1 {
		return fmt.Errorf("base_blend_alpha must be in [0,1], got %v", c.Prediction.BaseBlendAlpha)
	}
	if c.Contrastive.MinSampleSizePerGroup < 1 {
		return fmt.Errorf("min_sample_size_per_group must be >= 1")
	}
	if c.Pipeline.TimeoutMS <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}
	return nil
}
