// Package trip defines the passenger trip model: the entity held by the
// reconciliation registry, the lifecycle state machine, and the normalized
// Update value every source produces.
package trip

import "time"

// ID is a stable opaque trip identifier, unique across the registry.
type ID string

// Kind distinguishes the two booking shapes.
type Kind string

const (
	// KindShare is a point-to-point shared ride with an origin and a
	// destination.
	KindShare Kind = "share"
	// KindHire is a vehicle hire anchored to a single location.
	KindHire Kind = "hire"
)

// Source tags which adapter produced an update. Retained on the trip as
// provenance for diagnostics only; it never influences merge decisions.
type Source string

const (
	SourcePush  Source = "push"
	SourcePoll  Source = "poll"
	SourceLocal Source = "local"
)

// Precision qualifies a driver location fix.
type Precision string

const (
	PrecisionPrecise     Precision = "precise"
	PrecisionApproximate Precision = "approximate"
)

// Coordinates is a lng/lat pair.
type Coordinates struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// DriverRef identifies the assigned driver and their last known position.
// Location is nil until the first fix arrives.
type DriverRef struct {
	ID        string       `json:"id"`
	Location  *Coordinates `json:"location,omitempty"`
	Precision Precision    `json:"precision,omitempty"`
}

// Route holds the trip geography. Share trips use Origin/Destination;
// Hire trips use Location. The unused fields stay empty.
type Route struct {
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Trip is the central entity. Instances live only inside the registry and
// are mutated exclusively through the reconciliation merge; everything
// handed out of the registry is a copy.
type Trip struct {
	ID     ID     `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
	Route  Route  `json:"route"`

	// Price in minor currency units.
	Price int64 `json:"price"`

	Driver DriverRef `json:"driver"`

	// LastUpdated is the merge sequence number of the last accepted
	// update, used for selector recency and tie-breaking.
	LastUpdated int64 `json:"last_updated"`

	// Provenance is the source of the last accepted update.
	Provenance Source `json:"provenance"`

	// PaymentChargeID is set only while a payment-verification cycle is
	// outstanding for this trip.
	PaymentChargeID string `json:"payment_charge_id,omitempty"`
}

// Fields is the partial-Trip payload of an Update. Nil pointers mean the
// source did not mention the field; the merge leaves those untouched.
type Fields struct {
	Kind     Kind
	Route    *Route
	Price    *int64
	Driver   *DriverRef
	ChargeID *string
}

// Update is a normalized, source-tagged proposal to change one trip.
// It is transient: consumed by the merge, never stored.
type Update struct {
	ID             ID
	ProposedStatus Status
	Fields         Fields
	Source         Source
	ReceivedAt     time.Time
}

// Active reports whether the trip still belongs to the active subset,
// i.e. is not in a terminal status.
func (t *Trip) Active() bool {
	return !Terminal(t.Status)
}
