package store

import (
	"context"
	"sync"
	"time"

	"adorb/internal/logging"
	"adorb/internal/orb"
)

// MemoryStore is a mutex-guarded in-memory orb store with last-write-wins
// semantics. No transactional guarantees; concurrent writers to the same ID
// simply race and the last Save wins, which is the documented cache
// contract.
type MemoryStore struct {
	mu   sync.RWMutex
	orbs map[string]*orb.Orb
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orbs: make(map[string]*orb.Orb)}
}

// Save upserts an orb. Idempotent: saving the same orb twice is a no-op
// beyond the overwrite.
func (s *MemoryStore) Save(_ context.Context, o *orb.Orb) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orbs[o.ID] = &cp
	logging.StoreDebug("MemoryStore: saved orb %s (state=%s)", o.ID, o.State)
	return nil
}

// Get returns the orb with the given ID or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*orb.Orb, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orbs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// List returns all stored orbs.
func (s *MemoryStore) List(_ context.Context) ([]*orb.Orb, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*orb.Orb, 0, len(s.orbs))
	for _, o := range s.orbs {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes an orb. Deleting a missing orb is not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orbs, id)
	return nil
}

// ListByPlatform returns orbs whose effective platform matches.
func (s *MemoryStore) ListByPlatform(ctx context.Context, platform string) ([]*orb.Orb, error) {
	return s.filter(ctx, func(o *orb.Orb) bool {
		return o.Platform() == platform
	})
}

// ListByDateRange returns orbs created within [from, to].
func (s *MemoryStore) ListByDateRange(ctx context.Context, from, to time.Time) ([]*orb.Orb, error) {
	return s.filter(ctx, func(o *orb.Orb) bool {
		return !o.CreatedAt.Before(from) && !o.CreatedAt.After(to)
	})
}

// ListByMinSuccess returns observed orbs at or above the given score.
func (s *MemoryStore) ListByMinSuccess(ctx context.Context, minScore float64) ([]*orb.Orb, error) {
	return s.filter(ctx, func(o *orb.Orb) bool {
		return o.Results != nil && o.Results.SuccessScore >= minScore
	})
}

func (s *MemoryStore) filter(ctx context.Context, keep func(*orb.Orb) bool) ([]*orb.Orb, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, o := range all {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

// ListAdOrbs returns flattened retrieval views of the stored orbs.
func (s *MemoryStore) ListAdOrbs(ctx context.Context, resultsOnly bool) ([]*orb.AdOrb, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*orb.AdOrb, 0, len(all))
	for _, o := range all {
		if resultsOnly && o.Results == nil {
			continue
		}
		out = append(out, o.Flatten())
	}
	return out, nil
}

// =============================================================================
// EMBEDDING CACHE
// =============================================================================

// EmbeddingCache is a simple key-value store for generated embeddings:
// independent get/set, last-write-wins, no transactions. Keys are orb ID
// plus channel (e.g. "<id>/creative").
type EmbeddingCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewEmbeddingCache creates an empty cache.
func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{vectors: make(map[string][]float32)}
}

// Get returns the cached vector for key and whether it exists.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[key]
	return v, ok
}

// Set stores a vector under key, replacing any previous value.
func (c *EmbeddingCache) Set(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[key] = vec
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}
