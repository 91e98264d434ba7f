package contrastive

import (
	"math"
	"sort"

	"adorb/internal/logging"
	"adorb/internal/retrieval"
)

// Analysis is the full contrastive picture over one neighbor set.
type Analysis struct {
	// Effects holds every computed trait effect, ranked by absolute lift.
	Effects []TraitEffect `json:"effects"`

	// TopPositive and TopNegative hold the strongest significant lifts.
	TopPositive []TraitEffect `json:"top_positive"`
	TopNegative []TraitEffect `json:"top_negative"`

	// LowConfidence holds effects too uncertain to act on. These feed the
	// data-gap detector.
	LowConfidence []TraitEffect `json:"low_confidence"`
}

// NetLift sums the strongest positive and negative lifts for a one-line
// summary of where this ad stands.
func (a *Analysis) NetLift() float64 {
	var net float64
	for _, e := range a.TopPositive {
		net += e.Lift
	}
	for _, e := range a.TopNegative {
		net += e.Lift
	}
	return net
}

// Analyze computes effects for every trait present in any neighbor: one
// effect per unique value for string traits, a presence effect for booleans
// and numerics. Effects are ranked by absolute lift and bucketed.
func (a *Analyzer) Analyze(neighbors []retrieval.NeighborAd) *Analysis {
	timer := logging.StartTimer(logging.CategoryAnalysis, "Analyze")
	defer timer.Stop()

	analysis := &Analysis{}
	if len(neighbors) == 0 {
		return analysis
	}

	for _, probe := range collectProbes(neighbors) {
		analysis.Effects = append(analysis.Effects, a.AnalyzeTraitEffect(neighbors, probe.key, probe.value))
	}

	sort.SliceStable(analysis.Effects, func(i, j int) bool {
		return math.Abs(analysis.Effects[i].Lift) > math.Abs(analysis.Effects[j].Lift)
	})

	lowConf := a.cfg.LowConfidenceBelow
	if lowConf <= 0 {
		lowConf = 40
	}
	topN := a.cfg.TopEffects
	if topN <= 0 {
		topN = 5
	}

	for _, e := range analysis.Effects {
		if e.Confidence < lowConf {
			analysis.LowConfidence = append(analysis.LowConfidence, e)
		}
		if !e.Significant {
			continue
		}
		if e.Lift > 0 && len(analysis.TopPositive) < topN {
			analysis.TopPositive = append(analysis.TopPositive, e)
		}
		if e.Lift < 0 && len(analysis.TopNegative) < topN {
			analysis.TopNegative = append(analysis.TopNegative, e)
		}
	}

	logging.Analysis("Contrastive analysis: %d effects, %d positive, %d negative, %d low-confidence",
		len(analysis.Effects), len(analysis.TopPositive), len(analysis.TopNegative), len(analysis.LowConfidence))
	return analysis
}

// probe is one trait/value pair worth measuring.
type probe struct {
	key   string
	value interface{}
}

// collectProbes enumerates the trait/value pairs present in a neighbor set,
// in deterministic order.
func collectProbes(neighbors []retrieval.NeighborAd) []probe {
	seen := make(map[string]bool)
	var probes []probe

	add := func(id string, p probe) {
		if !seen[id] {
			seen[id] = true
			probes = append(probes, p)
		}
	}

	for _, n := range neighbors {
		for key, v := range n.Ad.Traits {
			switch tv := v.(type) {
			case string:
				add(key+"\x00"+tv, probe{key: key, value: tv})
			case bool, float64:
				// Presence probe: booleans count when true, numerics when set.
				add(key, probe{key: key})
			}
		}
	}

	sort.SliceStable(probes, func(i, j int) bool {
		if probes[i].key != probes[j].key {
			return probes[i].key < probes[j].key
		}
		vi, _ := probes[i].value.(string)
		vj, _ := probes[j].value.(string)
		return vi < vj
	})
	return probes
}
