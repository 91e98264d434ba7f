package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"adorb/internal/orb"
)

// storeFactory builds a fresh store per test so memory and sqlite run the
// same contract suite.
type storeFactory func(t *testing.T) OrbStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) OrbStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) OrbStore {
			s, err := NewSQLiteStore(":memory:")
			if err != nil {
				t.Fatalf("NewSQLiteStore failed: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func observedOrb(t *testing.T, platform string, score float64) *orb.Orb {
	t.Helper()
	o, err := orb.New(orb.StateDraft, orb.Spec{Platform: platform}, &orb.Raw{
		Analysis: &orb.AdAnalysis{Platform: platform, HookType: "curiosity", UGC: true},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.Transition(orb.StatePublished); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := o.AttachResults(orb.Results{SuccessScore: score, Impressions: 1000}); err != nil {
		t.Fatalf("AttachResults failed: %v", err)
	}
	return o
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			o := observedOrb(t, "tiktok", 72)
			if err := s.Save(ctx, o); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, err := s.Get(ctx, o.ID)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.ID != o.ID || got.State != orb.StateObserved {
				t.Errorf("Round trip mismatch: got %s/%s", got.ID, got.State)
			}
			if got.Results == nil || got.Results.SuccessScore != 72 {
				t.Error("Results lost in round trip")
			}
			if got.Raw == nil || got.Raw.Analysis == nil || got.Raw.Analysis.HookType != "curiosity" {
				t.Error("Raw analysis lost in round trip")
			}
		})
	}
}

func TestStoreSaveIsIdempotent(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			o := observedOrb(t, "tiktok", 60)
			if err := s.Save(ctx, o); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			o.Results.SuccessScore = 65
			if err := s.Save(ctx, o); err != nil {
				t.Fatalf("Second save failed: %v", err)
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("Expected 1 orb after re-save, got %d", len(all))
			}
			if all[0].Results.SuccessScore != 65 {
				t.Error("Last write did not win")
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			_, err := s.Get(context.Background(), "no-such-orb")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			o := observedOrb(t, "tiktok", 50)
			_ = s.Save(ctx, o)
			if err := s.Delete(ctx, o.ID); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := s.Get(ctx, o.ID); !errors.Is(err, ErrNotFound) {
				t.Error("Orb still present after delete")
			}
			// Deleting a missing orb is not an error.
			if err := s.Delete(ctx, "gone"); err != nil {
				t.Errorf("Delete of missing orb errored: %v", err)
			}
		})
	}
}

func TestStoreQueries(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_ = s.Save(ctx, observedOrb(t, "tiktok", 80))
			_ = s.Save(ctx, observedOrb(t, "tiktok", 40))
			_ = s.Save(ctx, observedOrb(t, "meta", 70))

			draft, _ := orb.New(orb.StateDraft, orb.Spec{Platform: "tiktok"}, nil)
			_ = s.Save(ctx, draft)

			byPlatform, err := s.ListByPlatform(ctx, "tiktok")
			if err != nil {
				t.Fatalf("ListByPlatform failed: %v", err)
			}
			if len(byPlatform) != 3 {
				t.Errorf("Expected 3 tiktok orbs, got %d", len(byPlatform))
			}

			byScore, err := s.ListByMinSuccess(ctx, 60)
			if err != nil {
				t.Fatalf("ListByMinSuccess failed: %v", err)
			}
			if len(byScore) != 2 {
				t.Errorf("Expected 2 orbs at or above 60, got %d", len(byScore))
			}

			byDate, err := s.ListByDateRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
			if err != nil {
				t.Fatalf("ListByDateRange failed: %v", err)
			}
			if len(byDate) != 4 {
				t.Errorf("Expected all 4 orbs in range, got %d", len(byDate))
			}
		})
	}
}

func TestStoreListAdOrbs(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_ = s.Save(ctx, observedOrb(t, "tiktok", 75))
			draft, _ := orb.New(orb.StateDraft, orb.Spec{Platform: "tiktok"}, nil)
			_ = s.Save(ctx, draft)

			all, err := s.ListAdOrbs(ctx, false)
			if err != nil {
				t.Fatalf("ListAdOrbs failed: %v", err)
			}
			if len(all) != 2 {
				t.Errorf("Expected 2 flattened ads, got %d", len(all))
			}

			scored, err := s.ListAdOrbs(ctx, true)
			if err != nil {
				t.Fatalf("ListAdOrbs(resultsOnly) failed: %v", err)
			}
			if len(scored) != 1 {
				t.Fatalf("Expected 1 scored ad, got %d", len(scored))
			}
			if scored[0].Traits["hook"] != "curiosity" {
				t.Error("Flattened traits missing from ListAdOrbs")
			}
			if !scored[0].Metadata.HasResults {
				t.Error("HasResults flag lost")
			}
		})
	}
}

func TestMemoryStoreCopiesOnRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	o := observedOrb(t, "tiktok", 50)
	_ = s.Save(ctx, o)

	got, _ := s.Get(ctx, o.ID)
	got.State = orb.StateDraft

	again, _ := s.Get(ctx, o.ID)
	if again.State != orb.StateObserved {
		t.Error("Mutating a returned orb must not affect the stored copy")
	}
}

func TestEmbeddingCache(t *testing.T) {
	c := NewEmbeddingCache()

	if _, ok := c.Get("orb-1/creative"); ok {
		t.Error("Empty cache should miss")
	}

	c.Set("orb-1/creative", []float32{1, 2, 3})
	c.Set("orb-1/creative", []float32{4, 5, 6}) // last write wins

	v, ok := c.Get("orb-1/creative")
	if !ok || v[0] != 4 {
		t.Errorf("Expected last write to win, got %v", v)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}
