package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailside/hailside/internal/trip"
)

var now = time.Unix(1700000000, 0)

func TestPushUpdate_KindMapping(t *testing.T) {
	tests := []struct {
		kind string
		want trip.Status
	}{
		{"request_approved", trip.StatusApproved},
		{"driver_arrived", trip.StatusArrived},
		{"passenger_boarded", trip.StatusBoarded},
		{"handover_completed", trip.StatusActive},
		{"return_confirmed", trip.StatusCompleted},
		{"ride_cancelled", trip.StatusCancelled},
		{"payment_refunded", trip.StatusRefunded},
	}
	for _, tt := range tests {
		u, err := PushUpdate([]byte(`{"kind":"`+tt.kind+`","ride_id":"T1"}`), now)
		require.NoError(t, err, "kind %s", tt.kind)
		assert.Equal(t, tt.want, u.ProposedStatus, "kind %s", tt.kind)
		assert.Equal(t, trip.SourcePush, u.Source)
		assert.Equal(t, trip.ID("T1"), u.ID)
	}
}

func TestPushUpdate_IDFallback(t *testing.T) {
	u, err := PushUpdate([]byte(`{"kind":"driver_arrived","id":"T9"}`), now)
	require.NoError(t, err)
	assert.Equal(t, trip.ID("T9"), u.ID)
}

func TestPushUpdate_MissingID(t *testing.T) {
	_, err := PushUpdate([]byte(`{"kind":"driver_arrived"}`), now)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestPushUpdate_UnmappedKind(t *testing.T) {
	_, err := PushUpdate([]byte(`{"kind":"driver_sneezed","ride_id":"T1"}`), now)
	var uk *UnmappedKindError
	require.True(t, errors.As(err, &uk))
	assert.Equal(t, "driver_sneezed", uk.Kind)
}

func TestPushUpdate_MalformedJSON(t *testing.T) {
	_, err := PushUpdate([]byte(`{not json`), now)
	assert.Error(t, err)
}

func TestPushUpdate_CarriesFields(t *testing.T) {
	raw := []byte(`{
		"kind": "driver_inbound",
		"ride_id": "T1",
		"trip_kind": "share",
		"price": 4500,
		"origin": "Central Station",
		"destination": "Airport",
		"driver": {"id": "D7", "lng": 76.91, "lat": 43.25, "precision": "precise"}
	}`)
	u, err := PushUpdate(raw, now)
	require.NoError(t, err)

	assert.Equal(t, trip.KindShare, u.Fields.Kind)
	require.NotNil(t, u.Fields.Price)
	assert.Equal(t, int64(4500), *u.Fields.Price)
	require.NotNil(t, u.Fields.Route)
	assert.Equal(t, "Central Station", u.Fields.Route.Origin)
	require.NotNil(t, u.Fields.Driver)
	assert.Equal(t, "D7", u.Fields.Driver.ID)
	require.NotNil(t, u.Fields.Driver.Location)
	assert.Equal(t, 43.25, u.Fields.Driver.Location.Lat)
	assert.Equal(t, trip.PrecisionPrecise, u.Fields.Driver.Precision)
}

func TestPushUpdate_NFCNormalizesAddresses(t *testing.T) {
	// "Café" with a combining acute accent (NFD) must normalize to the
	// precomposed form so it equals the poll spelling.
	raw := []byte(`{"kind":"driver_inbound","ride_id":"T1","origin":"Café Quay"}`)
	u, err := PushUpdate(raw, now)
	require.NoError(t, err)
	require.NotNil(t, u.Fields.Route)
	assert.Equal(t, "Café Quay", u.Fields.Route.Origin)
}

func TestPollUpdate_RowToUpdate(t *testing.T) {
	price := int64(12000)
	row := SnapshotRow{
		ID:       "T2",
		Status:   "Inbound",
		Kind:     "hire",
		Price:    &price,
		Location: "Dockyard 4",
	}
	u, err := PollUpdate(row, now)
	require.NoError(t, err)

	assert.Equal(t, trip.ID("T2"), u.ID)
	assert.Equal(t, trip.StatusInbound, u.ProposedStatus)
	assert.Equal(t, trip.SourcePoll, u.Source)
	assert.Equal(t, trip.KindHire, u.Fields.Kind)
	require.NotNil(t, u.Fields.Route)
	assert.Equal(t, "Dockyard 4", u.Fields.Route.Location)
}

func TestPollUpdate_UnknownStatusPassesThrough(t *testing.T) {
	u, err := PollUpdate(SnapshotRow{ID: "T1", Status: "Sideways"}, now)
	require.NoError(t, err)
	assert.Equal(t, trip.StatusInvalid, u.ProposedStatus,
		"unknown status reaches the engine as the invalid sentinel")
}

func TestPollUpdate_MissingID(t *testing.T) {
	_, err := PollUpdate(SnapshotRow{Status: "Inbound"}, now)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestDriver_PartialFix(t *testing.T) {
	lng := 10.0
	u, err := PollUpdate(SnapshotRow{
		ID:     "T1",
		Status: "Arrived",
		Driver: &DriverPayload{ID: "D1", Lng: &lng}, // lat missing
	}, now)
	require.NoError(t, err)
	require.NotNil(t, u.Fields.Driver)
	assert.Nil(t, u.Fields.Driver.Location, "half a coordinate is no fix")
}
