package retrieval

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"adorb/internal/config"
	"adorb/internal/orb"
	"adorb/internal/similarity"
)

// fakeSource serves a fixed candidate slice.
type fakeSource struct {
	ads []*orb.AdOrb
}

func (f *fakeSource) ListAdOrbs(_ context.Context, resultsOnly bool) ([]*orb.AdOrb, error) {
	if !resultsOnly {
		return f.ads, nil
	}
	var out []*orb.AdOrb
	for _, a := range f.ads {
		if a.Results != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:                10,
		MinNeighbors:        5,
		MinSimilarity:       0.3,
		VectorWeight:        0.6,
		StructuredWeight:    0.4,
		RecencyHalfLifeDays: 30,
		RecencyFloor:        0.1,
	}
}

func makeAd(id string, embedding []float32, score float64) *orb.AdOrb {
	return &orb.AdOrb{
		ID:        id,
		Embedding: embedding,
		Traits:    map[string]interface{}{"platform": "tiktok"},
		Results:   &orb.Results{SuccessScore: score},
		Metadata:  orb.Metadata{Platform: "tiktok", CreatedAt: time.Now(), HasResults: true},
	}
}

func TestRetrieveRanksAndCaps(t *testing.T) {
	var ads []*orb.AdOrb
	for i := 0; i < 20; i++ {
		// Progressively less similar to the query vector.
		ads = append(ads, makeAd(fmt.Sprintf("ad-%d", i), []float32{1, float32(i) * 0.1}, 50))
	}
	r := NewRetriever(&fakeSource{ads: ads}, nil, testConfig())

	query := makeAd("query", []float32{1, 0}, 0)
	neighbors, err := r.Retrieve(context.Background(), query, 5, Filters{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(neighbors) != 5 {
		t.Fatalf("Expected 5 neighbors, got %d", len(neighbors))
	}
	for i := 1; i < len(neighbors); i++ {
		if neighbors[i].Similarity.Weighted > neighbors[i-1].Similarity.Weighted {
			t.Errorf("Neighbors not sorted at %d", i)
		}
	}
	if neighbors[0].Ad.ID != "ad-0" {
		t.Errorf("Expected closest ad first, got %s", neighbors[0].Ad.ID)
	}
}

func TestRetrieveExcludesSelf(t *testing.T) {
	query := makeAd("q", []float32{1, 0}, 50)
	r := NewRetriever(&fakeSource{ads: []*orb.AdOrb{query, makeAd("other", []float32{1, 0}, 60)}}, nil, testConfig())

	neighbors, err := r.Retrieve(context.Background(), query, 10, Filters{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, n := range neighbors {
		if n.Ad.ID == "q" {
			t.Error("Query must never appear in its own neighbor set")
		}
	}
}

func TestRetrieveDropsBelowMinSimilarity(t *testing.T) {
	// Opposite vector with no trait overlap: hybrid lands near zero.
	far := &orb.AdOrb{
		ID:        "far",
		Embedding: []float32{-1, 0},
		Traits:    map[string]interface{}{"category": "unrelated"},
		Results:   &orb.Results{SuccessScore: 90},
		Metadata:  orb.Metadata{CreatedAt: time.Now()},
	}
	query := &orb.AdOrb{
		ID:        "q",
		Embedding: []float32{1, 0},
		Traits:    map[string]interface{}{"platform": "tiktok"},
	}
	r := NewRetriever(&fakeSource{ads: []*orb.AdOrb{far}}, nil, testConfig())

	neighbors, err := r.Retrieve(context.Background(), query, 10, Filters{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(neighbors) != 0 {
		t.Errorf("Expected dissimilar candidate to be dropped, got %d neighbors", len(neighbors))
	}
}

func TestRetrieveFilters(t *testing.T) {
	tiktok := makeAd("tk", []float32{1, 0}, 70)
	meta := makeAd("mt", []float32{1, 0}, 60)
	meta.Metadata.Platform = "meta"
	meta.Traits["platform"] = "meta"
	old := makeAd("old", []float32{1, 0}, 80)
	old.Metadata.CreatedAt = time.Now().Add(-200 * 24 * time.Hour)

	r := NewRetriever(&fakeSource{ads: []*orb.AdOrb{tiktok, meta, old}}, nil, testConfig())
	query := makeAd("q", []float32{1, 0}, 0)

	neighbors, err := r.Retrieve(context.Background(), query, 10, Filters{
		Platform:   "tiktok",
		MaxAgeDays: 90,
	})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Ad.ID != "tk" {
		t.Fatalf("Expected only the fresh tiktok ad, got %v", neighbors)
	}
}

func TestRetrieveNilQuery(t *testing.T) {
	r := NewRetriever(&fakeSource{}, nil, testConfig())
	if _, err := r.Retrieve(context.Background(), nil, 5, Filters{}); err == nil {
		t.Fatal("Expected error for nil query")
	}
}

func TestHasEnoughNeighbors(t *testing.T) {
	cfg := testConfig()

	var three []NeighborAd
	for i := 0; i < 3; i++ {
		three = append(three, NeighborAd{Ad: makeAd(fmt.Sprintf("n%d", i), nil, 50), Similarity: similarity.Score{Hybrid: 0.8}})
	}
	if HasEnoughNeighbors(three, cfg) {
		t.Error("3 neighbors must not satisfy a minimum of 5")
	}

	var five []NeighborAd
	for i := 0; i < 5; i++ {
		five = append(five, NeighborAd{Ad: makeAd(fmt.Sprintf("n%d", i), nil, 50), Similarity: similarity.Score{Hybrid: 0.8}})
	}
	if !HasEnoughNeighbors(five, cfg) {
		t.Error("5 similar neighbors should satisfy the gate")
	}

	// Enough neighbors but too dissimilar.
	for i := range five {
		five[i].Similarity.Hybrid = 0.1
	}
	if HasEnoughNeighbors(five, cfg) {
		t.Error("Low average similarity must fail the gate")
	}
}

func TestAvgHelpers(t *testing.T) {
	neighbors := []NeighborAd{
		{Similarity: similarity.Score{Hybrid: 0.4, Recency: 0.8}},
		{Similarity: similarity.Score{Hybrid: 0.6, Recency: 0.4}},
	}
	if got := AvgSimilarity(neighbors); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("AvgSimilarity = %v, want 0.5", got)
	}
	if got := AvgRecency(neighbors); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("AvgRecency = %v, want 0.6", got)
	}
	if AvgSimilarity(nil) != 0 || AvgRecency(nil) != 0 {
		t.Error("Empty neighbor sets must average to 0")
	}
}
