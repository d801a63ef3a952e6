package engine

import (
	"github.com/hailside/hailside/internal/trip"
)

// Outcome classifies what the merge did with an update.
type Outcome int

const (
	// OutcomeCreated means the update introduced a previously unseen trip.
	OutcomeCreated Outcome = iota + 1
	// OutcomeApplied means the update advanced status and/or refreshed
	// fields on an existing trip.
	OutcomeApplied
	// OutcomeDuplicate means the update proposed exactly the state the
	// trip already holds; the registry was not touched.
	OutcomeDuplicate
	// OutcomeStale means the proposed status ranked below the current one
	// and was rejected. Driver telemetry in the update may still have been
	// applied (see Result.TelemetryApplied).
	OutcomeStale
	// OutcomeTerminal means the trip is in a terminal status and accepts
	// no further mutation.
	OutcomeTerminal
	// OutcomeMalformed means the update was missing its trip id.
	OutcomeMalformed
	// OutcomeUnknownStatus means the proposed status is not part of the
	// lifecycle.
	OutcomeUnknownStatus
)

// Accepted reports whether the outcome mutated lifecycle state.
func (o Outcome) Accepted() bool {
	return o == OutcomeCreated || o == OutcomeApplied
}

// String returns the outcome name used in logs and journal rows.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStale:
		return "stale"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnknownStatus:
		return "unknown_status"
	default:
		return "unknown"
	}
}

// Result reports the merge decision for one update.
type Result struct {
	Outcome Outcome
	TripID  trip.ID

	// Seq is the merge sequence stamped on accepted updates; zero for
	// rejected ones.
	Seq int64

	// Trip is a copy of the trip after the merge, present whenever the
	// trip exists in the registry (including rejections against it).
	Trip *trip.Trip

	// Err categorizes rejections. Nil for accepted and duplicate outcomes.
	Err *MergeError

	// TelemetryApplied is set when a status-rejected update still
	// contributed a driver location fix.
	TelemetryApplied bool
}

// Registry owns the canonical trip set. All mutation funnels through Merge;
// every other method is a read-only projection returning copies.
//
// Registry itself carries no lock: at runtime it is owned by the engine's
// single-writer loop, and cross-goroutine reads go through the Engine
// accessors, which serialize against that loop.
type Registry struct {
	trips map[trip.ID]*trip.Trip
	order []trip.ID // insertion order, for deterministic tie-breaking
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		trips: make(map[trip.ID]*trip.Trip),
	}
}

// Merge reconciles one update into the registry and classifies the result.
//
// Decision order:
//  1. missing id → malformed
//  2. unknown proposed status → unknown-status reject
//  3. unseen id → create the trip from the update
//  4. terminal trip → reject unless the update is an exact duplicate
//  5. identical status and fields → duplicate no-op
//  6. legal transition (rank >= current, or cancel/refund edge) → apply
//  7. otherwise → stale reject, but still take driver telemetry
//
// Merge is total: it never panics or returns an error for a well-typed
// update, and re-applying any update yields the same registry state.
func (r *Registry) Merge(u trip.Update, seq int64) Result {
	if u.ID == "" {
		return Result{
			Outcome: OutcomeMalformed,
			Err:     newMalformedError("update has no trip id"),
		}
	}

	if !trip.Known(u.ProposedStatus) {
		res := Result{
			Outcome: OutcomeUnknownStatus,
			TripID:  u.ID,
			Err:     newUnknownStatusError(u.ID, u.ProposedStatus),
		}
		if existing, ok := r.trips[u.ID]; ok {
			res.Trip = copyTrip(existing)
		}
		return res
	}

	existing, ok := r.trips[u.ID]
	if !ok {
		created := newTripFromUpdate(u, seq)
		r.trips[u.ID] = created
		r.order = append(r.order, u.ID)
		return Result{
			Outcome: OutcomeCreated,
			TripID:  u.ID,
			Seq:     seq,
			Trip:    copyTrip(created),
		}
	}

	if trip.Terminal(existing.Status) {
		if u.ProposedStatus == existing.Status && !fieldsDiffer(existing, u.Fields) {
			return Result{
				Outcome: OutcomeDuplicate,
				TripID:  u.ID,
				Trip:    copyTrip(existing),
			}
		}
		return Result{
			Outcome: OutcomeTerminal,
			TripID:  u.ID,
			Trip:    copyTrip(existing),
			Err:     newTerminalError(u.ID, u.ProposedStatus, existing.Status),
		}
	}

	if u.ProposedStatus == existing.Status && !fieldsDiffer(existing, u.Fields) {
		return Result{
			Outcome: OutcomeDuplicate,
			TripID:  u.ID,
			Trip:    copyTrip(existing),
		}
	}

	if trip.CanTransition(existing.Status, u.ProposedStatus) {
		existing.Status = u.ProposedStatus
		applyFields(existing, u.Fields)
		existing.LastUpdated = seq
		existing.Provenance = u.Source
		return Result{
			Outcome: OutcomeApplied,
			TripID:  u.ID,
			Seq:     seq,
			Trip:    copyTrip(existing),
		}
	}

	// Stale snapshot: the lifecycle proposal loses, but a driver location
	// fix is independent of lifecycle progress and still applies.
	telemetry := applyTelemetry(existing, u.Fields)
	return Result{
		Outcome:          OutcomeStale,
		TripID:           u.ID,
		Trip:             copyTrip(existing),
		Err:              newStaleError(u.ID, u.ProposedStatus, existing.Status),
		TelemetryApplied: telemetry,
	}
}

// Get returns a copy of one trip.
func (r *Registry) Get(id trip.ID) (trip.Trip, bool) {
	t, ok := r.trips[id]
	if !ok {
		return trip.Trip{}, false
	}
	return *copyTrip(t), true
}

// Snapshot returns copies of all trips in insertion order.
func (r *Registry) Snapshot() []trip.Trip {
	out := make([]trip.Trip, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *copyTrip(r.trips[id]))
	}
	return out
}

// Active returns copies of the active subset in insertion order.
func (r *Registry) Active() []trip.Trip {
	var out []trip.Trip
	for _, id := range r.order {
		if t := r.trips[id]; t.Active() {
			out = append(out, *copyTrip(t))
		}
	}
	return out
}

// Len returns the number of trips in the registry.
func (r *Registry) Len() int {
	return len(r.trips)
}

func newTripFromUpdate(u trip.Update, seq int64) *trip.Trip {
	t := &trip.Trip{
		ID:          u.ID,
		Status:      u.ProposedStatus,
		LastUpdated: seq,
		Provenance:  u.Source,
	}
	applyFields(t, u.Fields)
	return t
}

// applyFields overwrites every field the update provided.
func applyFields(t *trip.Trip, f trip.Fields) {
	if f.Kind != "" {
		t.Kind = f.Kind
	}
	if f.Route != nil {
		t.Route = *f.Route
	}
	if f.Price != nil {
		t.Price = *f.Price
	}
	if f.ChargeID != nil {
		t.PaymentChargeID = *f.ChargeID
	}
	applyTelemetry(t, f)
}

// applyTelemetry takes only the driver reference. Returns true if it
// changed anything.
func applyTelemetry(t *trip.Trip, f trip.Fields) bool {
	if f.Driver == nil {
		return false
	}
	if driverEqual(t.Driver, *f.Driver) {
		return false
	}
	t.Driver = copyDriver(*f.Driver)
	return true
}

// fieldsDiffer reports whether any provided field differs from the trip's
// current value. Used to classify exact re-deliveries as duplicates.
func fieldsDiffer(t *trip.Trip, f trip.Fields) bool {
	if f.Kind != "" && f.Kind != t.Kind {
		return true
	}
	if f.Route != nil && *f.Route != t.Route {
		return true
	}
	if f.Price != nil && *f.Price != t.Price {
		return true
	}
	if f.ChargeID != nil && *f.ChargeID != t.PaymentChargeID {
		return true
	}
	if f.Driver != nil && !driverEqual(t.Driver, *f.Driver) {
		return true
	}
	return false
}

func driverEqual(a, b trip.DriverRef) bool {
	if a.ID != b.ID || a.Precision != b.Precision {
		return false
	}
	if (a.Location == nil) != (b.Location == nil) {
		return false
	}
	if a.Location != nil && *a.Location != *b.Location {
		return false
	}
	return true
}

func copyDriver(d trip.DriverRef) trip.DriverRef {
	out := d
	if d.Location != nil {
		loc := *d.Location
		out.Location = &loc
	}
	return out
}

func copyTrip(t *trip.Trip) *trip.Trip {
	out := *t
	out.Driver = copyDriver(t.Driver)
	return &out
}
