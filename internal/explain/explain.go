// Package explain turns prediction internals into human-readable text. The
// goal is evidence a media buyer can check, not model telemetry: which ads
// the estimate leans on, which traits move the needle, how sure the system
// is, and what data would make it surer.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"adorb/internal/contrastive"
	"adorb/internal/logging"
	"adorb/internal/marketplace"
	"adorb/internal/retrieval"
)

// Confidence bands for phrasing. High-confidence predictions suppress the
// data-gap section entirely.
const (
	highConfidenceFloor   = 70.0
	mediumConfidenceFloor = 40.0
)

// Input carries everything the generator needs from one prediction run.
type Input struct {
	Score      float64
	Confidence float64
	Method     string

	Neighbors []retrieval.NeighborAd
	Analysis  *contrastive.Analysis
	Gaps      []marketplace.DataNeed
	Matches   []marketplace.Match
}

// Explanation is the rendered output: four independent sections plus a
// one-line summary and ranked trait recommendations.
type Explanation struct {
	Summary string `json:"summary"`

	NeighborEvidence   string `json:"neighbor_evidence"`
	ContrastiveInsight string `json:"contrastive_insight"`
	ConfidenceNote     string `json:"confidence_note"`
	DataSuggestions    string `json:"data_suggestions,omitempty"`

	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// Recommendation is one actionable trait suggestion, ranked by expected
// impact.
type Recommendation struct {
	Trait    string  `json:"trait"`
	Action   string  `json:"action"` // use, avoid, test
	Impact   float64 `json:"impact"` // absolute lift in score points
	Evidence string  `json:"evidence"`
}

// Generator renders explanations.
type Generator struct{}

// NewGenerator creates an explanation generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate renders all sections for one prediction.
func (g *Generator) Generate(in Input) *Explanation {
	timer := logging.StartTimer(logging.CategoryExplain, "Generate")
	defer timer.Stop()

	exp := &Explanation{
		NeighborEvidence:   g.neighborEvidence(in.Neighbors),
		ContrastiveInsight: g.contrastiveInsight(in.Analysis),
		ConfidenceNote:     g.confidenceNote(in),
		Recommendations:    g.recommendations(in.Analysis),
	}

	// Data suggestions only appear when the prediction is not already solid;
	// telling a user with a confident estimate to buy data is noise.
	if in.Confidence < highConfidenceFloor {
		exp.DataSuggestions = g.dataSuggestions(in.Gaps, in.Matches)
	}

	exp.Summary = g.summary(in)

	logging.ExplainDebug("Generated explanation: %d recommendations, gaps shown=%v",
		len(exp.Recommendations), exp.DataSuggestions != "")
	return exp
}

// summary is the one-liner: score, confidence band, evidence size.
func (g *Generator) summary(in Input) string {
	band := confidenceBand(in.Confidence)
	if len(in.Neighbors) == 0 {
		return fmt.Sprintf("Predicted score %.0f/100 (%s confidence) with no comparable historical ads; treat as a baseline estimate.",
			in.Score, band)
	}
	return fmt.Sprintf("Predicted score %.0f/100 (%s confidence) based on %d comparable ads.",
		in.Score, band, len(in.Neighbors))
}

// neighborEvidence describes the retrieval set: how many, how similar, how
// they performed, and the closest few by name.
func (g *Generator) neighborEvidence(neighbors []retrieval.NeighborAd) string {
	if len(neighbors) == 0 {
		return "No comparable historical ads were found for this creative."
	}

	avgSim := retrieval.AvgSimilarity(neighbors)

	var scored int
	var sum float64
	for _, n := range neighbors {
		if s, ok := n.SuccessScore(); ok {
			scored++
			sum += s
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d comparable ads (average similarity %.0f%%).", len(neighbors), avgSim*100)
	if scored > 0 {
		fmt.Fprintf(&b, " Those ads averaged a success score of %.0f/100.", sum/float64(scored))
	}

	top := neighbors
	if len(top) > 3 {
		top = top[:3]
	}
	var names []string
	for _, n := range top {
		names = append(names, fmt.Sprintf("%s (%.0f%% similar)", n.Ad.ID, n.Similarity.Hybrid*100))
	}
	fmt.Fprintf(&b, " Closest matches: %s.", strings.Join(names, ", "))
	return b.String()
}

// contrastiveInsight summarizes the strongest trait effects in plain terms.
func (g *Generator) contrastiveInsight(analysis *contrastive.Analysis) string {
	if analysis == nil || len(analysis.Effects) == 0 {
		return "Not enough comparable ads to isolate which creative traits drive performance."
	}
	if len(analysis.TopPositive) == 0 && len(analysis.TopNegative) == 0 {
		return "No creative trait showed a statistically meaningful effect across the comparable ads."
	}

	var parts []string
	for i, e := range analysis.TopPositive {
		if i >= 2 {
			break
		}
		parts = append(parts, fmt.Sprintf("ads with %s scored %.0f points higher (%d vs %d ads)",
			e.Label(), e.Lift, e.WithCount, e.WithoutCount))
	}
	for i, e := range analysis.TopNegative {
		if i >= 2 {
			break
		}
		parts = append(parts, fmt.Sprintf("ads with %s scored %.0f points lower (%d vs %d ads)",
			e.Label(), -e.Lift, e.WithCount, e.WithoutCount))
	}
	return "Among comparable ads, " + strings.Join(parts, "; ") + "."
}

// confidenceNote states the confidence band and the dominant reason for it.
func (g *Generator) confidenceNote(in Input) string {
	band := confidenceBand(in.Confidence)

	reason := ""
	switch {
	case len(in.Neighbors) == 0:
		reason = "no comparable ads were available"
	case len(in.Neighbors) < 5:
		reason = fmt.Sprintf("only %d comparable ads were available", len(in.Neighbors))
	case retrieval.AvgSimilarity(in.Neighbors) < 0.5:
		reason = "the comparable ads are only loosely similar to this creative"
	case in.Confidence >= highConfidenceFloor:
		reason = "the estimate rests on a solid set of closely matching ads"
	default:
		reason = "the comparable ads show mixed outcomes"
	}

	return fmt.Sprintf("Confidence is %s (%.0f/100): %s. Method: %s.", band, in.Confidence, reason, in.Method)
}

// dataSuggestions lists the worst gaps and the best dataset matches, with
// the total estimated confidence gain.
func (g *Generator) dataSuggestions(gaps []marketplace.DataNeed, matches []marketplace.Match) string {
	if len(gaps) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("More data would sharpen this estimate: ")

	var parts []string
	for i, gap := range gaps {
		if i >= 3 {
			break
		}
		parts = append(parts, gap.Reason)
	}
	b.WriteString(strings.Join(parts, "; "))
	b.WriteString(".")

	if len(matches) > 0 {
		var names []string
		for _, m := range matches {
			names = append(names, fmt.Sprintf("%s (+%.0f confidence)", m.Dataset.Name, m.EstimatedConfidenceGain))
		}
		fmt.Fprintf(&b, " Suggested datasets: %s. Combined estimated gain: +%.0f confidence points.",
			strings.Join(names, ", "), marketplace.TotalEstimatedGain(matches))
	}
	return b.String()
}

// recommendations ranks actionable trait suggestions by absolute lift,
// skipping neutral effects.
func (g *Generator) recommendations(analysis *contrastive.Analysis) []Recommendation {
	if analysis == nil {
		return nil
	}

	var recs []Recommendation
	for _, e := range analysis.Effects {
		var action string
		switch e.Recommendation {
		case contrastive.RecommendUse:
			action = "use"
		case contrastive.RecommendAvoid:
			action = "avoid"
		case contrastive.RecommendTest:
			action = "test"
		default:
			continue
		}

		evidence := fmt.Sprintf("%d ads with, %d without, %.0f%% confidence", e.WithCount, e.WithoutCount, e.Confidence)
		if e.InsufficientEvidence {
			evidence = fmt.Sprintf("too few ads to judge (%d with, %d without)", e.WithCount, e.WithoutCount)
		}

		recs = append(recs, Recommendation{
			Trait:    e.Label(),
			Action:   action,
			Impact:   absLift(e.Lift),
			Evidence: evidence,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Impact > recs[j].Impact
	})
	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

func confidenceBand(conf float64) string {
	switch {
	case conf >= highConfidenceFloor:
		return "high"
	case conf >= mediumConfidenceFloor:
		return "medium"
	default:
		return "low"
	}
}

func absLift(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
