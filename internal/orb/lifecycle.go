package orb

import (
	"fmt"
	"time"

	"adorb/internal/logging"
)

// InvalidStateTransitionError reports a lifecycle-contract violation.
// This is the only error class in the prediction path that is meant to
// reach callers; everything else is absorbed by the safety wrapper.
type InvalidStateTransitionError struct {
	From State
	To   State
}

func (e *InvalidStateTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("invalid orb state %q", e.To)
	}
	return fmt.Sprintf("invalid state transition %q -> %q", e.From, e.To)
}

// CanTransition reports whether target is reachable from the current state.
func (o *Orb) CanTransition(target State) bool {
	for _, next := range validNextStates[o.State] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition moves the orb to target. It is the only state mutator.
// Transitions are strictly forward per the transition table; no skipping,
// no reversal. A draft may be re-saved as draft.
func (o *Orb) Transition(target State) error {
	if !o.CanTransition(target) {
		logging.Get(logging.CategoryOrb).Warn("Rejected transition %s -> %s for orb %s", o.State, target, o.ID)
		return &InvalidStateTransitionError{From: o.State, To: target}
	}

	logging.OrbDebug("Orb %s: %s -> %s", o.ID, o.State, target)
	o.State = target
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachResults attaches first observed results to a published orb and
// moves it to the observed state, stamping FetchedAt.
func (o *Orb) AttachResults(r Results) error {
	if o.State != StatePublished {
		return &InvalidStateTransitionError{From: o.State, To: StateObserved}
	}

	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now().UTC()
	}
	o.Results = &r
	if err := o.Transition(StateObserved); err != nil {
		// Unreachable given the published check above, but keep Results
		// consistent if the table ever changes.
		o.Results = nil
		return err
	}

	logging.Orb("Orb %s observed: success=%.1f impressions=%d", o.ID, r.SuccessScore, r.Impressions)
	return nil
}

// UpdateResults replaces the results of an already-observed orb, e.g. when
// a later metrics fetch supersedes the first one.
func (o *Orb) UpdateResults(r Results) error {
	if o.State != StateObserved {
		return &InvalidStateTransitionError{From: o.State, To: StateObserved}
	}

	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now().UTC()
	}
	o.Results = &r
	o.UpdatedAt = time.Now().UTC()
	return nil
}
