package embedding

import (
	"sort"
	"strings"

	"adorb/internal/orb"
)

// =============================================================================
// CANONICAL TEXT BUILDERS
// =============================================================================

// CanonicalTexts holds the three independent texts embedded per ad.
type CanonicalTexts struct {
	Creative string // what the ad is (weight 0.5 at retrieval)
	Script   string // what the ad says (weight 0.3)
	Visual   string // what the ad shows (weight 0.2)
}

// BuildCanonicalTexts builds the three canonical texts from an orb's raw
// analysis plus derived facets. Missing attributes are simply omitted; an
// orb with no raw analysis still yields spec-derived creative text.
func BuildCanonicalTexts(o *orb.Orb) CanonicalTexts {
	var an *orb.AdAnalysis
	if o.Raw != nil {
		an = o.Raw.Analysis
	}

	var facets map[string]string
	if o.Derived != nil {
		facets = o.Derived.Facets
	}
	if len(facets) == 0 {
		facets = o.Spec.Facets
	}

	return CanonicalTexts{
		Creative: buildCreativeText(an, o.Spec, facets),
		Script:   buildScriptText(an, o.Spec),
		Visual:   buildVisualText(an),
	}
}

func buildCreativeText(an *orb.AdAnalysis, spec orb.Spec, facets map[string]string) string {
	b := newTextBuilder()
	if an != nil {
		b.add("description", an.Description)
		b.add("category", an.Category)
		b.add("hook", an.HookType)
		b.add("pattern", an.Pattern)
		b.add("tone", an.Tone)
		b.add("sentiment", an.Sentiment)
		b.add("editing", an.EditingStyle)
		b.addList("claims", an.Claims)
		b.add("structure", an.Structure)
	}
	b.add("platform", spec.Platform)
	b.add("objective", spec.Objective)
	for _, k := range sortedKeys(facets) {
		b.add(k, facets[k])
	}
	return b.String()
}

func buildScriptText(an *orb.AdAnalysis, spec orb.Spec) string {
	b := newTextBuilder()
	if an != nil {
		b.add("narration", an.Narration)
		b.addList("on-screen", an.OnScreenText)
		b.addList("headlines", an.Headlines)
		b.add("cta", an.CTAText)
		b.add("cta type", an.CTAType)
		b.add("hook", an.HookText)
		b.addList("pain points", an.PainPoints)
	}
	b.add("script notes", spec.ScriptNotes)
	if spec.CTA != "" {
		b.add("cta", spec.CTA)
	}
	return b.String()
}

func buildVisualText(an *orb.AdAnalysis) string {
	b := newTextBuilder()
	if an != nil {
		b.add("color", an.ColorTemperature)
		b.add("composition", an.Composition)
		b.add("scene velocity", an.SceneVelocity)
		b.addList("objects", an.DetectedObjects)
		b.addList("shots", an.ShotDescriptions)
		b.add("aspect", an.AspectRatio)
		b.add("media", an.MediaType)
		if an.HasFaces {
			b.add("faces", "present")
		}
		if an.HasLogo {
			b.add("logo", "present")
		}
	}
	return b.String()
}

// DeriveFacets extracts low-cardinality explanation labels from an analysis.
func DeriveFacets(an *orb.AdAnalysis) map[string]string {
	if an == nil {
		return nil
	}
	facets := make(map[string]string)
	put := func(k, v string) {
		if v != "" {
			facets[k] = strings.ToLower(v)
		}
	}
	put("hook", an.HookType)
	put("tone", an.Tone)
	put("editing_style", an.EditingStyle)
	put("media_type", an.MediaType)
	put("color_temperature", an.ColorTemperature)
	put("cta_type", an.CTAType)
	if an.UGC {
		facets["ugc"] = "true"
	}
	if len(facets) == 0 {
		return nil
	}
	return facets
}

// =============================================================================
// TEXT BUILDER
// =============================================================================

type textBuilder struct {
	parts []string
}

func newTextBuilder() *textBuilder {
	return &textBuilder{}
}

func (b *textBuilder) add(label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.parts = append(b.parts, label+": "+value)
}

func (b *textBuilder) addList(label string, values []string) {
	var kept []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return
	}
	b.parts = append(b.parts, label+": "+strings.Join(kept, "; "))
}

func (b *textBuilder) String() string {
	return strings.Join(b.parts, " | ")
}

// sortedKeys keeps canonical text deterministic for identical facets.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
