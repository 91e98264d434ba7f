package orb

import (
	"math"
	"time"
)

// =============================================================================
// AD ORB - flattened trait/embedding view used for similarity math
// =============================================================================

// Metadata carries the retrieval-relevant context of a flattened ad.
type Metadata struct {
	Platform   string    `json:"platform,omitempty"`
	Objective  string    `json:"objective,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	HasResults bool      `json:"has_results"`
}

// AdOrb is the flattened view of an Orb (or of an upstream ad record) used
// by the similarity scorer. Trait values are strings, float64s or bools.
// AdOrbs are disposable; they can always be regenerated from their source.
type AdOrb struct {
	ID            string                 `json:"id"`
	Traits        map[string]interface{} `json:"traits"`
	Results       *Results               `json:"results,omitempty"`
	Metadata      Metadata               `json:"metadata"`
	Embedding     []float32              `json:"embedding,omitempty"`
	CanonicalText string                 `json:"canonical_text,omitempty"`
}

// SuccessScore returns the normalized outcome score and whether one exists.
func (a *AdOrb) SuccessScore() (float64, bool) {
	if a.Results == nil {
		return 0, false
	}
	return a.Results.SuccessScore, true
}

// Flatten produces the AdOrb view of an orb. Traits merge raw analysis
// attributes with spec and derived facets; later sources win on key
// collisions so user edits override extracted values.
func (o *Orb) Flatten() *AdOrb {
	traits := make(map[string]interface{})

	if o.Raw != nil && o.Raw.Analysis != nil {
		an := o.Raw.Analysis
		putTrait(traits, "platform", an.Platform)
		putTrait(traits, "placement", an.Placement)
		putTrait(traits, "objective", an.Objective)
		putTrait(traits, "category", an.Category)
		putTrait(traits, "hook", an.HookType)
		putTrait(traits, "pattern", an.Pattern)
		putTrait(traits, "tone", an.Tone)
		putTrait(traits, "sentiment", an.Sentiment)
		putTrait(traits, "editing_style", an.EditingStyle)
		putTrait(traits, "structure", an.Structure)
		putTrait(traits, "cta_type", an.CTAType)
		putTrait(traits, "color_temperature", an.ColorTemperature)
		putTrait(traits, "composition", an.Composition)
		putTrait(traits, "scene_velocity", an.SceneVelocity)
		putTrait(traits, "aspect_ratio", an.AspectRatio)
		putTrait(traits, "media_type", an.MediaType)
		traits["has_faces"] = an.HasFaces
		traits["has_logo"] = an.HasLogo
		traits["ugc"] = an.UGC
		if n := len(an.Claims); n > 0 {
			traits["claim_count"] = float64(n)
		}
	}

	for k, v := range o.derivedFacets() {
		putTrait(traits, k, v)
	}
	for k, v := range o.Spec.Facets {
		putTrait(traits, k, v)
	}
	putTrait(traits, "platform", o.Spec.Platform)
	putTrait(traits, "objective", o.Spec.Objective)

	createdAt := o.CreatedAt
	if o.Raw != nil && !o.Raw.CreatedAt.IsZero() {
		createdAt = o.Raw.CreatedAt
	}

	ad := &AdOrb{
		ID:      o.ID,
		Traits:  traits,
		Results: o.Results,
		Metadata: Metadata{
			Platform:   o.Platform(),
			Objective:  o.Objective(),
			CreatedAt:  createdAt,
			HasResults: o.Results != nil,
		},
	}

	if o.Derived != nil {
		ad.CanonicalText = o.Derived.CreativeText
		ad.Embedding = BlendEmbeddings(
			o.Derived.CreativeEmbedding,
			o.Derived.ScriptEmbedding,
			o.Derived.VisualEmbedding,
		)
	}

	return ad
}

func (o *Orb) derivedFacets() map[string]string {
	if o.Derived == nil {
		return nil
	}
	return o.Derived.Facets
}

func putTrait(traits map[string]interface{}, key, value string) {
	if value == "" {
		return
	}
	traits[key] = value
}

// Canonical channel weights for combining the three embedding vectors into
// the single retrieval vector.
const (
	CreativeWeight = 0.5
	ScriptWeight   = 0.3
	VisualWeight   = 0.2
)

// BlendEmbeddings combines the creative/script/visual vectors into one
// L2-normalized retrieval vector using the canonical channel weights.
// Vectors with mismatched dimensions are skipped; if nothing usable
// remains, the creative vector is returned as-is.
func BlendEmbeddings(creative, script, visual []float32) []float32 {
	dim := len(creative)
	if dim == 0 {
		if len(script) > 0 {
			return script
		}
		return visual
	}

	blended := make([]float64, dim)
	for i, v := range creative {
		blended[i] = CreativeWeight * float64(v)
	}
	if len(script) == dim {
		for i, v := range script {
			blended[i] += ScriptWeight * float64(v)
		}
	}
	if len(visual) == dim {
		for i, v := range visual {
			blended[i] += VisualWeight * float64(v)
		}
	}

	var norm float64
	for _, v := range blended {
		norm += v * v
	}
	if norm == 0 {
		return creative
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	for i, v := range blended {
		out[i] = float32(v / norm)
	}
	return out
}

// =============================================================================
// AD ENTRY - external input contract
// =============================================================================

// AdEntry is the upstream ad record shape the core accepts. The core only
// reads entries; it never mutates them.
type AdEntry struct {
	ID           string          `json:"id"`
	Platform     string          `json:"platform,omitempty"`
	Placement    string          `json:"placement,omitempty"`
	Objective    string          `json:"objective,omitempty"`
	HookType     string          `json:"hook_type,omitempty"`
	EditingStyle string          `json:"editing_style,omitempty"`
	CTAType      string          `json:"cta_type,omitempty"`
	CTAText      string          `json:"cta_text,omitempty"`
	Flags        map[string]bool `json:"flags,omitempty"` // boolean feature flags (ugc, has_faces, ...)
	Analysis     *AdAnalysis     `json:"analysis,omitempty"`
	Results      *Results        `json:"results,omitempty"`
	MediaRef     string          `json:"media_ref,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
}

// FromAdEntry flattens an upstream ad record directly into an AdOrb,
// bypassing the orb lifecycle. Used for legacy records that were never
// tracked as orbs. The result carries traits only; callers that need the
// canonical text and embedding derive them via the embedding generator's
// FlattenEntry.
func FromAdEntry(e *AdEntry) *AdOrb {
	traits := make(map[string]interface{})

	if e.Analysis != nil {
		// Reuse the orb flattening for the analysis block.
		tmp := &Orb{Raw: &Raw{Analysis: e.Analysis}}
		for k, v := range tmp.Flatten().Traits {
			traits[k] = v
		}
	}

	putTrait(traits, "platform", e.Platform)
	putTrait(traits, "placement", e.Placement)
	putTrait(traits, "objective", e.Objective)
	putTrait(traits, "hook", e.HookType)
	putTrait(traits, "editing_style", e.EditingStyle)
	putTrait(traits, "cta_type", e.CTAType)
	for k, v := range e.Flags {
		traits[k] = v
	}

	platform := e.Platform
	if platform == "" && e.Analysis != nil {
		platform = e.Analysis.Platform
	}
	objective := e.Objective
	if objective == "" && e.Analysis != nil {
		objective = e.Analysis.Objective
	}

	return &AdOrb{
		ID:      e.ID,
		Traits:  traits,
		Results: e.Results,
		Metadata: Metadata{
			Platform:   platform,
			Objective:  objective,
			CreatedAt:  e.CreatedAt,
			HasResults: e.Results != nil,
		},
	}
}

// ToOrb promotes an upstream ad record into a lifecycle-tracked orb. Records
// that already carry results enter as published so results can be attached.
func (e *AdEntry) ToOrb() (*Orb, error) {
	state := StateDraft
	if e.Results != nil {
		state = StatePublished
	}

	spec := Spec{
		Platform:  e.Platform,
		Objective: e.Objective,
		CTA:       e.CTAText,
	}
	raw := &Raw{
		Analysis:  e.Analysis,
		Source:    "import",
		MediaRef:  e.MediaRef,
		CreatedAt: e.CreatedAt,
	}

	o, err := New(state, spec, raw)
	if err != nil {
		return nil, err
	}
	if e.Results != nil {
		if err := o.AttachResults(*e.Results); err != nil {
			return nil, err
		}
	}
	return o, nil
}
