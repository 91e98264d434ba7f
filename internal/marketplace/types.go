// Package marketplace detects coverage gaps in the retrieval evidence and
// matches them against external datasets that declare what they cover.
// Datasets expose coverage and quality metrics only, never raw data.
package marketplace

// Severity grades how badly a data gap hurts prediction quality.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// rank orders severities for sorting and dedup.
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Gap dimensions.
const (
	DimensionNeighbors = "neighbors"
	DimensionPlatform  = "platform"
	DimensionTrait     = "trait"
)

// DataNeed describes one detected coverage gap.
type DataNeed struct {
	Dimension string   `json:"dimension"` // neighbors, platform, trait
	Value     string   `json:"value"`     // e.g. "tiktok" or "hook=problem_solution"
	Severity  Severity `json:"severity"`

	CurrentSamples  int `json:"current_samples"`
	RequiredSamples int `json:"required_samples"`

	// EstimatedConfidenceImpact is the confidence points closing this gap
	// could recover, via a diminishing-returns curve.
	EstimatedConfidenceImpact float64 `json:"estimated_confidence_impact"`

	Reason string `json:"reason,omitempty"`
}

// DatasetCoverage declares what a marketplace dataset covers.
type DatasetCoverage struct {
	Platforms  []string `json:"platforms,omitempty"`
	Traits     []string `json:"traits,omitempty"`
	Objectives []string `json:"objectives,omitempty"`
	Formats    []string `json:"formats,omitempty"`
	Audiences  []string `json:"audiences,omitempty"`
}

// Dataset is an external data source advertised on the marketplace.
type Dataset struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`

	Coverage DatasetCoverage `json:"coverage"`

	SampleCount     int     `json:"sample_count"`
	FreshnessScore  float64 `json:"freshness_score"`  // 0-100
	ConfidenceScore float64 `json:"confidence_score"` // 0-100

	// BaseAvgGain is the provider-reported average confidence gain per
	// integration, before scaling by fit.
	BaseAvgGain float64 `json:"base_avg_gain"`
}

// Match binds a gap set to a dataset with a computed match score.
type Match struct {
	Dataset       Dataset    `json:"dataset"`
	MatchScore    float64    `json:"match_score"`
	CoverageScore float64    `json:"coverage_score"`
	AddressedGaps []DataNeed `json:"addressed_gaps,omitempty"`

	EstimatedConfidenceGain float64 `json:"estimated_confidence_gain"`
}
