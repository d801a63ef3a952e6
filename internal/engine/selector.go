package engine

import "github.com/hailside/hailside/internal/trip"

// SelectCurrent derives the single currently-tracked trip from the active
// subset.
//
// Selection rules, in order:
//  1. Stability: if prev still names an active trip, keep it. This stops
//     the tracked view from flickering between trips when several are
//     active at once (one Share plus one Hire is a normal state).
//  2. Recency: pick the active trip with the highest LastUpdated seq.
//  3. Determinism: break seq ties by insertion order, earliest first.
//
// Returns ("", false) when the active subset is empty, which clears any
// current selection.
//
// The engine re-runs this after every accepted merge.
func (r *Registry) SelectCurrent(prev trip.ID) (trip.ID, bool) {
	if prev != "" {
		if t, ok := r.trips[prev]; ok && t.Active() {
			return prev, true
		}
	}

	var (
		best  trip.ID
		found bool
		seq   int64
	)
	for _, id := range r.order {
		t := r.trips[id]
		if !t.Active() {
			continue
		}
		// Strictly greater keeps the earliest-inserted trip on ties.
		if !found || t.LastUpdated > seq {
			best = id
			seq = t.LastUpdated
			found = true
		}
	}
	return best, found
}
