package orb

import (
	"context"
	"fmt"

	"adorb/internal/logging"
)

// Getter fetches a single orb by ID. Satisfied by any orb store.
type Getter interface {
	Get(ctx context.Context, id string) (*Orb, error)
}

// Lister enumerates all orbs. Satisfied by any orb store.
type Lister interface {
	List(ctx context.Context) ([]*Orb, error)
}

// Ancestry walks parentOrbID links from the given orb up to the root and
// returns the chain oldest-first, excluding the orb itself. A cycle in the
// stored links (which should never happen) terminates the walk with an error
// rather than looping.
func Ancestry(ctx context.Context, store Getter, id string) ([]*Orb, error) {
	timer := logging.StartTimer(logging.CategoryOrb, "Ancestry")
	defer timer.Stop()

	o, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ancestry root %s: %w", id, err)
	}

	seen := map[string]bool{o.ID: true}
	var chain []*Orb
	for o.ParentOrbID != "" {
		parent, err := store.Get(ctx, o.ParentOrbID)
		if err != nil {
			return nil, fmt.Errorf("ancestry link %s -> %s: %w", o.ID, o.ParentOrbID, err)
		}
		if seen[parent.ID] {
			return nil, fmt.Errorf("lineage cycle detected at orb %s", parent.ID)
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		o = parent
	}

	// Reverse to oldest-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	logging.OrbDebug("Ancestry of %s: %d ancestors", id, len(chain))
	return chain, nil
}

// Descendants returns every orb reachable from id by following parent links
// downward (children, grandchildren, ...), in breadth-first order.
func Descendants(ctx context.Context, store Lister, id string) ([]*Orb, error) {
	timer := logging.StartTimer(logging.CategoryOrb, "Descendants")
	defer timer.Stop()

	all, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("descendants of %s: %w", id, err)
	}

	children := make(map[string][]*Orb)
	for _, o := range all {
		if o.ParentOrbID != "" {
			children[o.ParentOrbID] = append(children[o.ParentOrbID], o)
		}
	}

	var out []*Orb
	queue := []string{id}
	seen := map[string]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}

	logging.OrbDebug("Descendants of %s: %d orbs", id, len(out))
	return out, nil
}
