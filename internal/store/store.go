// Package store persists orbs. Two backends are provided: an in-memory
// store with last-write-wins semantics and a SQLite-backed store for
// durable data. Both satisfy OrbStore; the pipeline takes the interface and
// never knows which one it got.
package store

import (
	"context"
	"errors"
	"time"

	"adorb/internal/orb"
)

// ErrNotFound is returned when no orb exists for the requested ID.
var ErrNotFound = errors.New("orb not found")

// OrbStore is the persistence contract the core requires: idempotent save,
// eventual consistency, no transactional guarantees.
type OrbStore interface {
	Save(ctx context.Context, o *orb.Orb) error
	Get(ctx context.Context, id string) (*orb.Orb, error)
	List(ctx context.Context) ([]*orb.Orb, error)
	Delete(ctx context.Context, id string) error

	ListByPlatform(ctx context.Context, platform string) ([]*orb.Orb, error)
	ListByDateRange(ctx context.Context, from, to time.Time) ([]*orb.Orb, error)
	ListByMinSuccess(ctx context.Context, minScore float64) ([]*orb.Orb, error)

	// ListAdOrbs returns the flattened retrieval view of stored orbs,
	// optionally restricted to orbs with observed results.
	ListAdOrbs(ctx context.Context, resultsOnly bool) ([]*orb.AdOrb, error)
}
