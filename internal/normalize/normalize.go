// Package normalize translates raw source payloads into the uniform
// trip.Update shape consumed by the reconciliation engine.
//
// Push frames are a tagged union discriminated by their event kind; a fixed
// kind→status table determines the proposed status. Poll snapshots arrive
// as rows of trip history; each row becomes one update. Both paths apply
// NFC normalization to address strings so push and poll spellings of the
// same place compare equal.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/hailside/hailside/internal/trip"
)

// ErrMissingID marks a payload with no trip identifier.
var ErrMissingID = errors.New("payload has no trip id")

// UnmappedKindError marks a push frame whose kind has no status mapping.
// Adapters log and drop these; they never reach the engine.
type UnmappedKindError struct {
	Kind string
}

func (e *UnmappedKindError) Error() string {
	return fmt.Sprintf("unmapped push event kind %q", e.Kind)
}

// kindStatus is the fixed push kind→status table.
var kindStatus = map[string]trip.Status{
	"request_submitted":          trip.StatusPending,
	"request_approved":           trip.StatusApproved,
	"ride_scheduled":             trip.StatusScheduled,
	"awaiting_payment_selection": trip.StatusAwaitingPaymentSelection,
	"driver_inbound":             trip.StatusInbound,
	"driver_arrived":             trip.StatusArrived,
	"passenger_boarded":          trip.StatusBoarded,
	"ride_started":               trip.StatusInProgress,
	"payment_due":                trip.StatusPaymentDue,
	"ride_completed":             trip.StatusCompleted,
	"ride_cancelled":             trip.StatusCancelled,
	"handover_pending":           trip.StatusHandoverPending,
	"handover_completed":         trip.StatusActive,
	"return_pending":             trip.StatusReturnPending,
	"return_confirmed":           trip.StatusCompleted,
	"payment_refunded":           trip.StatusRefunded,
}

// PushEvent is the wire shape of one server push frame.
// Either RideID or ID carries the trip identifier.
type PushEvent struct {
	Kind    string `json:"kind"`
	RideID  string `json:"ride_id,omitempty"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`

	TripKind    string         `json:"trip_kind,omitempty"`
	Price       *int64         `json:"price,omitempty"`
	Origin      string         `json:"origin,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Location    string         `json:"location,omitempty"`
	Driver      *DriverPayload `json:"driver,omitempty"`
	ChargeID    *string        `json:"charge_id,omitempty"`
}

// DriverPayload is the driver block shared by push frames and poll rows.
type DriverPayload struct {
	ID        string   `json:"id"`
	Lng       *float64 `json:"lng,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Precision string   `json:"precision,omitempty"`
}

// SnapshotRow is one row of the polled trip-history snapshot.
type SnapshotRow struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Kind        string         `json:"kind,omitempty"`
	Price       *int64         `json:"price,omitempty"`
	Origin      string         `json:"origin,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Location    string         `json:"location,omitempty"`
	Driver      *DriverPayload `json:"driver,omitempty"`
	ChargeID    *string        `json:"charge_id,omitempty"`
}

// PushUpdate decodes a raw push frame and maps it to a trip.Update.
// Returns ErrMissingID or an UnmappedKindError for frames the adapter
// should drop with a warning.
func PushUpdate(raw []byte, receivedAt time.Time) (trip.Update, error) {
	var ev PushEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return trip.Update{}, fmt.Errorf("decode push frame: %w", err)
	}
	return FromPushEvent(ev, receivedAt)
}

// FromPushEvent maps an already-decoded push frame to a trip.Update.
func FromPushEvent(ev PushEvent, receivedAt time.Time) (trip.Update, error) {
	id := ev.RideID
	if id == "" {
		id = ev.ID
	}
	if id == "" {
		return trip.Update{}, ErrMissingID
	}

	status, ok := kindStatus[ev.Kind]
	if !ok {
		return trip.Update{}, &UnmappedKindError{Kind: ev.Kind}
	}

	u := trip.Update{
		ID:             trip.ID(id),
		ProposedStatus: status,
		Source:         trip.SourcePush,
		ReceivedAt:     receivedAt,
	}
	u.Fields.Kind = parseKind(ev.TripKind)
	u.Fields.Price = ev.Price
	u.Fields.Route = route(ev.Origin, ev.Destination, ev.Location)
	u.Fields.Driver = driver(ev.Driver)
	u.Fields.ChargeID = ev.ChargeID
	return u, nil
}

// PollUpdate maps one snapshot row to a trip.Update with SourcePoll.
//
// An unparseable status is passed through as the invalid sentinel: the
// engine classifies it as an unknown-status no-op and logs it, keeping the
// normalizer total for well-typed rows. A missing id is the only error.
func PollUpdate(row SnapshotRow, receivedAt time.Time) (trip.Update, error) {
	if row.ID == "" {
		return trip.Update{}, ErrMissingID
	}

	status, _ := trip.ParseStatus(row.Status)

	u := trip.Update{
		ID:             trip.ID(row.ID),
		ProposedStatus: status,
		Source:         trip.SourcePoll,
		ReceivedAt:     receivedAt,
	}
	u.Fields.Kind = parseKind(row.Kind)
	u.Fields.Price = row.Price
	u.Fields.Route = route(row.Origin, row.Destination, row.Location)
	u.Fields.Driver = driver(row.Driver)
	u.Fields.ChargeID = row.ChargeID
	return u, nil
}

func parseKind(raw string) trip.Kind {
	switch raw {
	case "share", "SHARE", "Share":
		return trip.KindShare
	case "hire", "HIRE", "Hire":
		return trip.KindHire
	default:
		return ""
	}
}

// route builds the partial route, NFC-normalizing the address strings.
// Returns nil when the payload carried no geography at all.
func route(origin, destination, location string) *trip.Route {
	if origin == "" && destination == "" && location == "" {
		return nil
	}
	return &trip.Route{
		Origin:      norm.NFC.String(origin),
		Destination: norm.NFC.String(destination),
		Location:    norm.NFC.String(location),
	}
}

func driver(p *DriverPayload) *trip.DriverRef {
	if p == nil || p.ID == "" {
		return nil
	}
	d := &trip.DriverRef{ID: p.ID}
	if p.Lng != nil && p.Lat != nil {
		d.Location = &trip.Coordinates{Lng: *p.Lng, Lat: *p.Lat}
	}
	switch p.Precision {
	case string(trip.PrecisionPrecise):
		d.Precision = trip.PrecisionPrecise
	case string(trip.PrecisionApproximate):
		d.Precision = trip.PrecisionApproximate
	}
	return d
}
