// Package local turns passenger actions into optimistic updates. An action
// takes effect in the interface immediately and flows through the same
// merge as pushed and polled updates, so a later authoritative event
// either confirms it (a duplicate) or advances past it.
package local

import (
	"time"

	"github.com/hailside/hailside/internal/trip"
)

// Submitter delivers an update into the reconciliation engine.
type Submitter func(trip.Update) bool

// Actions produces locally initiated trip updates.
type Actions struct {
	submit Submitter
	tokens TokenGenerator
	now    func() time.Time
}

// NewActions creates the action source. A nil generator defaults to
// UUIDv7Generator.
func NewActions(submit Submitter, tokens TokenGenerator) *Actions {
	if tokens == nil {
		tokens = UUIDv7Generator{}
	}
	return &Actions{
		submit: submit,
		tokens: tokens,
		now:    time.Now,
	}
}

// RequestShare creates an optimistic pending shared-ride trip and returns
// its request token, which serves as the trip id until the marketplace
// confirms the trip under the same id.
func (a *Actions) RequestShare(route trip.Route, price int64) trip.ID {
	return a.request(trip.KindShare, route, price)
}

// RequestHire creates an optimistic pending private-hire trip.
func (a *Actions) RequestHire(route trip.Route, price int64) trip.ID {
	return a.request(trip.KindHire, route, price)
}

func (a *Actions) request(kind trip.Kind, route trip.Route, price int64) trip.ID {
	id := trip.ID(a.tokens.Generate())
	a.submit(trip.Update{
		ID:             id,
		ProposedStatus: trip.StatusPending,
		Fields: trip.Fields{
			Kind:  kind,
			Route: &route,
			Price: &price,
		},
		Source:     trip.SourceLocal,
		ReceivedAt: a.now(),
	})
	return id
}

// ConfirmBoarding marks the trip as boarded before the driver's own
// confirmation arrives.
func (a *Actions) ConfirmBoarding(id trip.ID) bool {
	return a.submit(trip.Update{
		ID:             id,
		ProposedStatus: trip.StatusBoarded,
		Source:         trip.SourceLocal,
		ReceivedAt:     a.now(),
	})
}

// CancelTrip requests cancellation. The merge allows cancellation from any
// non-terminal status, so the optimistic update always lands unless the
// trip already finished.
func (a *Actions) CancelTrip(id trip.ID) bool {
	return a.submit(trip.Update{
		ID:             id,
		ProposedStatus: trip.StatusCancelled,
		Source:         trip.SourceLocal,
		ReceivedAt:     a.now(),
	})
}

// SelectPayment records that a charge is pending verification for the
// trip. Called after Initiate succeeds, before the verification poller
// starts.
func (a *Actions) SelectPayment(id trip.ID, chargeID string) bool {
	return a.submit(trip.Update{
		ID:             id,
		ProposedStatus: trip.StatusPaymentDue,
		Fields:         trip.Fields{ChargeID: &chargeID},
		Source:         trip.SourceLocal,
		ReceivedAt:     a.now(),
	})
}
