// Package orb defines the canonical ad-concept entity and its lifecycle.
// An Orb is the single source of truth for one ad idea: immutable raw
// analysis, regenerable derived data (facets, embeddings, canonical texts),
// an editable creative spec, and observed results once the ad has run.
package orb

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an Orb. Transitions are strictly forward.
type State string

const (
	StateSuggested State = "suggested"
	StateDraft     State = "draft"
	StatePublished State = "published"
	StateObserved  State = "observed" // terminal
)

// Origin records who created the orb.
type Origin string

const (
	OriginUser Origin = "user"
	OriginAI   Origin = "ai"
)

// validNextStates is the compile-time transition table. Transition is the
// only mutator that consults it.
var validNextStates = map[State][]State{
	StateSuggested: {StateDraft},
	StateDraft:     {StatePublished, StateDraft},
	StatePublished: {StateObserved},
	StateObserved:  {},
}

// ValidStates lists every lifecycle state.
func ValidStates() []State {
	return []State{StateSuggested, StateDraft, StatePublished, StateObserved}
}

// IsValidState reports whether s names a lifecycle state.
func IsValidState(s State) bool {
	switch s {
	case StateSuggested, StateDraft, StatePublished, StateObserved:
		return true
	}
	return false
}

// Orb is the canonical representation of one ad concept.
type Orb struct {
	ID          string `json:"id"`
	State       State  `json:"state"`
	CreatedFrom Origin `json:"created_from"`

	// ParentOrbID links to the orb this one was derived from. Lineage is
	// never mutated by any transition.
	ParentOrbID string `json:"parent_orb_id,omitempty"`

	// Raw is immutable once set.
	Raw *Raw `json:"raw,omitempty"`

	// Derived is regenerable from Raw at any time.
	Derived *Derived `json:"derived,omitempty"`

	// Spec is the editable creative specification.
	Spec Spec `json:"spec"`

	// LearningIntent is only meaningful for suggested orbs.
	LearningIntent *LearningIntent `json:"learning_intent,omitempty"`

	// Results is only valid once the orb reaches the observed state.
	Results *Results `json:"results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Raw holds the original analysis payload. Never modified after creation.
type Raw struct {
	Analysis  *AdAnalysis `json:"analysis,omitempty"`
	Source    string      `json:"source,omitempty"` // provenance: upload, crawler, import
	MediaRef  string      `json:"media_ref,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// AdAnalysis is the extracted creative attribute set produced by the
// upstream analyzer. The core only reads it.
type AdAnalysis struct {
	// Creative
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category,omitempty"`
	HookType     string   `json:"hook_type,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	Sentiment    string   `json:"sentiment,omitempty"`
	EditingStyle string   `json:"editing_style,omitempty"`
	Claims       []string `json:"claims,omitempty"`
	Structure    string   `json:"structure,omitempty"`

	// Script
	Narration    string   `json:"narration,omitempty"`
	OnScreenText []string `json:"on_screen_text,omitempty"`
	Headlines    []string `json:"headlines,omitempty"`
	HookText     string   `json:"hook_text,omitempty"`
	CTAText      string   `json:"cta_text,omitempty"`
	CTAType      string   `json:"cta_type,omitempty"`
	PainPoints   []string `json:"pain_points,omitempty"`

	// Visual
	ColorTemperature string   `json:"color_temperature,omitempty"`
	Composition      string   `json:"composition,omitempty"`
	SceneVelocity    string   `json:"scene_velocity,omitempty"`
	DetectedObjects  []string `json:"detected_objects,omitempty"`
	ShotDescriptions []string `json:"shot_descriptions,omitempty"`
	AspectRatio      string   `json:"aspect_ratio,omitempty"`
	MediaType        string   `json:"media_type,omitempty"`
	HasFaces         bool     `json:"has_faces,omitempty"`
	HasLogo          bool     `json:"has_logo,omitempty"`

	// Placement
	Platform  string `json:"platform,omitempty"`
	Placement string `json:"placement,omitempty"`
	Objective string `json:"objective,omitempty"`
	UGC       bool   `json:"ugc,omitempty"`
}

// Derived holds regenerable data: facets, embeddings, canonical texts.
type Derived struct {
	// Facets are low-cardinality labels for explanation and filtering.
	Facets map[string]string `json:"facets,omitempty"`

	CreativeEmbedding []float32 `json:"creative_embedding,omitempty"`
	ScriptEmbedding   []float32 `json:"script_embedding,omitempty"`
	VisualEmbedding   []float32 `json:"visual_embedding,omitempty"`

	CreativeText string `json:"creative_text,omitempty"`
	ScriptText   string `json:"script_text,omitempty"`
	VisualText   string `json:"visual_text,omitempty"`

	EmbeddingModel string    `json:"embedding_model,omitempty"`
	DerivedAt      time.Time `json:"derived_at"`
}

// Spec is the editable creative specification.
type Spec struct {
	Platform    string            `json:"platform,omitempty"`
	Objective   string            `json:"objective,omitempty"`
	Facets      map[string]string `json:"facets,omitempty"`
	ScriptNotes string            `json:"script_notes,omitempty"`
	ShotNotes   string            `json:"shot_notes,omitempty"`
	CTA         string            `json:"cta,omitempty"`
}

// LearningIntent names the single experimental lever a suggested orb tests.
type LearningIntent struct {
	Lever            string  `json:"lever"`
	Rationale        string  `json:"rationale,omitempty"`
	ExpectedInfoGain float64 `json:"expected_info_gain,omitempty"`
}

// Results holds the normalized success score plus raw outcome metrics.
type Results struct {
	SuccessScore float64   `json:"success_score"` // normalized 0-100
	Impressions  int64     `json:"impressions,omitempty"`
	Clicks       int64     `json:"clicks,omitempty"`
	CTR          float64   `json:"ctr,omitempty"`
	Conversions  int64     `json:"conversions,omitempty"`
	Spend        float64   `json:"spend,omitempty"`
	Revenue      float64   `json:"revenue,omitempty"`
	ROAS         float64   `json:"roas,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// New creates an orb in the given state. Raw may be nil for spec-only orbs.
func New(state State, spec Spec, raw *Raw) (*Orb, error) {
	if !IsValidState(state) {
		return nil, &InvalidStateTransitionError{From: "", To: state}
	}

	now := time.Now().UTC()
	o := &Orb{
		ID:          uuid.NewString(),
		State:       state,
		CreatedFrom: OriginUser,
		Spec:        spec,
		Raw:         raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if raw != nil && raw.CreatedAt.IsZero() {
		raw.CreatedAt = now
	}
	return o, nil
}

// NewChild creates an orb derived from a parent, preserving lineage.
func NewChild(parent *Orb, state State, spec Spec, from Origin) (*Orb, error) {
	o, err := New(state, spec, nil)
	if err != nil {
		return nil, err
	}
	o.ParentOrbID = parent.ID
	o.CreatedFrom = from
	return o, nil
}

// HasResults reports whether observed results are attached.
func (o *Orb) HasResults() bool {
	return o.Results != nil
}

// Platform returns the effective platform: spec first, then raw analysis.
func (o *Orb) Platform() string {
	if o.Spec.Platform != "" {
		return o.Spec.Platform
	}
	if o.Raw != nil && o.Raw.Analysis != nil {
		return o.Raw.Analysis.Platform
	}
	return ""
}

// Objective returns the effective objective: spec first, then raw analysis.
func (o *Orb) Objective() string {
	if o.Spec.Objective != "" {
		return o.Spec.Objective
	}
	if o.Raw != nil && o.Raw.Analysis != nil {
		return o.Raw.Analysis.Objective
	}
	return ""
}
