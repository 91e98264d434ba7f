package similarity

import (
	"strings"

	"adorb/internal/orb"
)

// traitWeights prioritizes the traits with the most predictive signal.
// Anything not listed scores defaultTraitWeight.
var traitWeights = map[string]float64{
	"platform":      2.0,
	"hook":          1.5,
	"category":      1.2,
	"objective":     1.0,
	"ugc":           1.0,
	"editing_style": 0.8,
	"cta_type":      0.8,
	"tone":          0.8,
	"media_type":    0.8,
}

const defaultTraitWeight = 0.5

// TraitWeight returns the scoring weight for a trait key.
func TraitWeight(key string) float64 {
	if w, ok := traitWeights[key]; ok {
		return w
	}
	return defaultTraitWeight
}

// StructuredSimilarity computes weighted trait overlap between two ads over
// the union of their trait keys. Exact matches earn the trait's full weight,
// partial substring matches on strings earn half weight, boolean mismatches
// earn nothing. The result is normalized by the total weight considered.
func StructuredSimilarity(a, b *orb.AdOrb) float64 {
	if a == nil || b == nil {
		return 0
	}

	keys := make(map[string]bool, len(a.Traits)+len(b.Traits))
	for k := range a.Traits {
		keys[k] = true
	}
	for k := range b.Traits {
		keys[k] = true
	}
	if len(keys) == 0 {
		return 0
	}

	var matched, total float64
	for k := range keys {
		av, aok := a.Traits[k]
		bv, bok := b.Traits[k]

		w := TraitWeight(k)
		total += w
		if !aok || !bok {
			continue
		}
		matched += w * traitMatch(av, bv)
	}

	if total == 0 {
		return 0
	}
	return matched / total
}

// traitMatch scores one trait pair: 1 exact, 0.5 partial string, 0 mismatch.
func traitMatch(a, b interface{}) float64 {
	switch av := a.(type) {
	case bool:
		if bv, ok := b.(bool); ok && av == bv {
			return 1
		}
		return 0
	case float64:
		if bv, ok := b.(float64); ok && av == bv {
			return 1
		}
		return 0
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		al, bl := strings.ToLower(av), strings.ToLower(bv)
		if al == bl {
			return 1
		}
		if al != "" && bl != "" && (strings.Contains(al, bl) || strings.Contains(bl, al)) {
			return 0.5
		}
		return 0
	default:
		return 0
	}
}
