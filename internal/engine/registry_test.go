package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailside/hailside/internal/trip"
)

func update(id trip.ID, status trip.Status, source trip.Source) trip.Update {
	return trip.Update{
		ID:             id,
		ProposedStatus: status,
		Source:         source,
		ReceivedAt:     time.Unix(1700000000, 0),
	}
}

func TestMerge_CreatesOnFirstEncounter(t *testing.T) {
	r := NewRegistry()

	price := int64(4500)
	u := update("T1", trip.StatusPending, trip.SourceLocal)
	u.Fields.Kind = trip.KindShare
	u.Fields.Price = &price
	u.Fields.Route = &trip.Route{Origin: "Airport", Destination: "Harbour"}

	res := r.Merge(u, 1)
	require.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, int64(1), res.Seq)

	got, ok := r.Get("T1")
	require.True(t, ok)
	assert.Equal(t, trip.StatusPending, got.Status)
	assert.Equal(t, trip.KindShare, got.Kind)
	assert.Equal(t, int64(4500), got.Price)
	assert.Equal(t, "Airport", got.Route.Origin)
	assert.Equal(t, trip.SourceLocal, got.Provenance)
	assert.Equal(t, int64(1), got.LastUpdated)
}

func TestMerge_AdvancesStatus(t *testing.T) {
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusInbound, trip.SourcePush), 1)

	res := r.Merge(update("T1", trip.StatusArrived, trip.SourcePush), 2)
	require.Equal(t, OutcomeApplied, res.Outcome)

	got, _ := r.Get("T1")
	assert.Equal(t, trip.StatusArrived, got.Status)
	assert.Equal(t, int64(2), got.LastUpdated)
}

func TestMerge_RejectsStaleSnapshot(t *testing.T) {
	// Push advances to Arrived, then a delayed poll row reports Inbound.
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusArrived, trip.SourcePush), 1)

	res := r.Merge(update("T1", trip.StatusInbound, trip.SourcePoll), 2)
	require.Equal(t, OutcomeStale, res.Outcome)
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeStaleStatus, res.Err.Code)
	assert.True(t, IsStale(res.Err))

	got, _ := r.Get("T1")
	assert.Equal(t, trip.StatusArrived, got.Status, "stale poll must not rewind status")
	assert.Equal(t, int64(1), got.LastUpdated, "rejected update must not bump recency")
}

func TestMerge_StaleUpdateStillAppliesDriverLocation(t *testing.T) {
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusArrived, trip.SourcePush), 1)

	u := update("T1", trip.StatusInbound, trip.SourcePoll)
	u.Fields.Driver = &trip.DriverRef{
		ID:        "D7",
		Location:  &trip.Coordinates{Lng: 76.91, Lat: 43.25},
		Precision: trip.PrecisionPrecise,
	}

	res := r.Merge(u, 2)
	require.Equal(t, OutcomeStale, res.Outcome)
	assert.True(t, res.TelemetryApplied)

	got, _ := r.Get("T1")
	assert.Equal(t, trip.StatusArrived, got.Status)
	require.NotNil(t, got.Driver.Location)
	assert.Equal(t, 43.25, got.Driver.Location.Lat)
}

func TestMerge_OptimisticLocalThenPushConfirm(t *testing.T) {
	// Local optimistically sets Boarded; the push confirmation at the same
	// rank is a duplicate no-op.
	r := NewRegistry()
	r.Merge(update("T2", trip.StatusArrived, trip.SourcePush), 1)
	res := r.Merge(update("T2", trip.StatusBoarded, trip.SourceLocal), 2)
	require.Equal(t, OutcomeApplied, res.Outcome)

	res = r.Merge(update("T2", trip.StatusBoarded, trip.SourcePush), 3)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	got, _ := r.Get("T2")
	assert.Equal(t, trip.StatusBoarded, got.Status)
	assert.Equal(t, int64(2), got.LastUpdated, "registry unchanged by the confirmation")
	assert.Equal(t, trip.SourceLocal, got.Provenance)
}

func TestMerge_Idempotent(t *testing.T) {
	price := int64(900)
	u := update("T1", trip.StatusInbound, trip.SourcePush)
	u.Fields.Price = &price

	r := NewRegistry()
	r.Merge(u, 1)
	first, _ := r.Get("T1")

	res := r.Merge(u, 2)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	second, _ := r.Get("T1")
	assert.Equal(t, first, second, "re-applying an update must not change the registry")
}

func TestMerge_SameRankFieldRevision(t *testing.T) {
	// Same status but a revised price: latest arrival wins on fields.
	r := NewRegistry()
	price := int64(1000)
	u := update("T1", trip.StatusPaymentDue, trip.SourcePush)
	u.Fields.Price = &price
	r.Merge(u, 1)

	revised := int64(1200)
	u2 := update("T1", trip.StatusPaymentDue, trip.SourcePoll)
	u2.Fields.Price = &revised

	res := r.Merge(u2, 2)
	require.Equal(t, OutcomeApplied, res.Outcome)

	got, _ := r.Get("T1")
	assert.Equal(t, int64(1200), got.Price)
	assert.Equal(t, trip.SourcePoll, got.Provenance)
}

func TestMerge_TerminalTripIsImmutable(t *testing.T) {
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusCompleted, trip.SourcePoll), 1)

	res := r.Merge(update("T1", trip.StatusInProgress, trip.SourcePush), 2)
	require.Equal(t, OutcomeTerminal, res.Outcome)
	assert.True(t, IsTerminalRejection(res.Err))

	// Even a cancel is refused once terminal.
	res = r.Merge(update("T1", trip.StatusCancelled, trip.SourcePush), 3)
	assert.Equal(t, OutcomeTerminal, res.Outcome)

	// Re-delivery of the terminal status itself is a duplicate, not an error.
	res = r.Merge(update("T1", trip.StatusCompleted, trip.SourcePoll), 4)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
}

func TestMerge_CancelFromAnyActiveState(t *testing.T) {
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusInProgress, trip.SourcePush), 1)

	res := r.Merge(update("T1", trip.StatusCancelled, trip.SourcePush), 2)
	require.Equal(t, OutcomeApplied, res.Outcome)

	got, _ := r.Get("T1")
	assert.Equal(t, trip.StatusCancelled, got.Status)
}

func TestMerge_RefundEscalation(t *testing.T) {
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusPaymentDue, trip.SourcePush), 1)

	res := r.Merge(update("T1", trip.StatusRefunded, trip.SourcePush), 2)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	r2 := NewRegistry()
	r2.Merge(update("T2", trip.StatusInProgress, trip.SourcePush), 1)
	res = r2.Merge(update("T2", trip.StatusRefunded, trip.SourcePush), 2)
	assert.Equal(t, OutcomeStale, res.Outcome, "refund is only reachable from payment escalation states")
}

func TestMerge_MalformedUpdateDropped(t *testing.T) {
	r := NewRegistry()
	res := r.Merge(update("", trip.StatusPending, trip.SourcePush), 1)
	require.Equal(t, OutcomeMalformed, res.Outcome)
	assert.True(t, IsMalformed(res.Err))
	assert.Equal(t, 0, r.Len())
}

func TestMerge_UnknownStatusIsNoOp(t *testing.T) {
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusInbound, trip.SourcePush), 1)

	res := r.Merge(update("T1", trip.Status("WARP_SPEED"), trip.SourcePoll), 2)
	require.Equal(t, OutcomeUnknownStatus, res.Outcome)
	assert.Equal(t, ErrCodeUnknownStatus, res.Err.Code)

	got, _ := r.Get("T1")
	assert.Equal(t, trip.StatusInbound, got.Status)

	// Unknown status on an unseen id creates nothing.
	res = r.Merge(update("T9", trip.StatusInvalid, trip.SourcePoll), 3)
	assert.Equal(t, OutcomeUnknownStatus, res.Outcome)
	assert.Equal(t, 1, r.Len())
}

func TestMerge_NoDuplicateTripsPerID(t *testing.T) {
	r := NewRegistry()
	r.Merge(update("T1", trip.StatusPending, trip.SourceLocal), 1)
	r.Merge(update("T1", trip.StatusApproved, trip.SourcePush), 2)
	r.Merge(update("T1", trip.StatusApproved, trip.SourcePoll), 3)

	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.Snapshot(), 1)
}

func TestMerge_StatusRankNeverDecreases(t *testing.T) {
	// Property check over a shuffled delivery of one trip's lifecycle.
	deliveries := []trip.Status{
		trip.StatusPending, trip.StatusInbound, trip.StatusApproved,
		trip.StatusArrived, trip.StatusInbound, trip.StatusBoarded,
		trip.StatusPending, trip.StatusPaymentDue, trip.StatusInProgress,
		trip.StatusCompleted,
	}

	r := NewRegistry()
	lastRank := -1
	for i, s := range deliveries {
		res := r.Merge(update("T1", s, trip.SourcePoll), int64(i+1))
		if res.Outcome.Accepted() {
			rank, ok := trip.Rank(s)
			require.True(t, ok)
			assert.GreaterOrEqual(t, rank, lastRank)
			lastRank = rank
		}
	}

	got, _ := r.Get("T1")
	assert.Equal(t, trip.StatusCompleted, got.Status)
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	r := NewRegistry()
	u := update("T1", trip.StatusInbound, trip.SourcePush)
	u.Fields.Driver = &trip.DriverRef{ID: "D1", Location: &trip.Coordinates{Lng: 1, Lat: 2}}
	r.Merge(u, 1)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Status = trip.StatusCancelled
	snap[0].Driver.Location.Lat = 99

	got, _ := r.Get("T1")
	assert.Equal(t, trip.StatusInbound, got.Status)
	assert.Equal(t, 2.0, got.Driver.Location.Lat)
}
