package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailside/hailside/internal/trip"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_ReportsAssertionFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "a deliberately wrong expectation",
		Steps: []Step{
			{Push: `{"kind":"driver_arrived","ride_id":"T1"}`},
		},
		Assertions: []Assertion{
			{Type: AssertFinalStatus, Trip: "T1", Status: "INBOUND"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "has status ARRIVED, want INBOUND")
}

func TestRun_RejectsUnknownExpectedStatus(t *testing.T) {
	scenario := &Scenario{
		Name:        "typoed-expectation",
		Description: "a misspelled expected status must fail, not match the invalid sentinel",
		Steps: []Step{
			{Push: `{"kind":"driver_arrived","ride_id":"T1"}`},
		},
		Assertions: []Assertion{
			{Type: AssertFinalStatus, Trip: "T1", Status: "ARIVED"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], `"ARIVED" is not a lifecycle status`)
}

func TestRun_TraceFollowsDeliveryOrder(t *testing.T) {
	scenario := &Scenario{
		Name:        "trace-order",
		Description: "outcomes recorded in delivery order",
		Steps: []Step{
			{Push: `{"kind":"driver_inbound","ride_id":"T1"}`},
			{Poll: &PollStep{Rows: []Row{{ID: "T1", Status: "Arrived"}}}},
			{Poll: &PollStep{Rows: []Row{{ID: "T1", Status: "Inbound"}}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, "created", result.Trace[0].Outcome)
	assert.Equal(t, "applied", result.Trace[1].Outcome)
	assert.Equal(t, "stale", result.Trace[2].Outcome)
}

func TestRun_LocalRequestUsesFixedToken(t *testing.T) {
	scenario := &Scenario{
		Name:        "fixed-token",
		Description: "request trips are keyed by their scripted token",
		Steps: []Step{
			{Local: &LocalStep{Action: "request_share", Token: "req-9", Origin: "A", Destination: "B", Price: 700}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trips, 1)
	assert.Equal(t, trip.ID("req-9"), result.Trips[0].ID)
	assert.Equal(t, trip.KindShare, result.Trips[0].Kind)
	assert.Equal(t, int64(700), result.Trips[0].Price)
}

func TestRun_PaymentFailureState(t *testing.T) {
	scenario := &Scenario{
		Name:        "payment-failed",
		Description: "a failed charge leaves the trip untouched",
		Steps: []Step{
			{Push: `{"kind":"payment_due","ride_id":"T1"}`},
			{Local: &LocalStep{Action: "select_payment", Trip: "T1", ChargeID: "ch_f"}},
			{Payment: &PaymentStep{Trip: "T1", ChargeID: "ch_f", Results: []string{"failure"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result.Poller)
	assert.Equal(t, "failed", string(result.Poller.State))
	assert.Equal(t, 1, result.Poller.Attempts)

	final, ok := findTrip(result, "T1")
	require.True(t, ok)
	assert.Equal(t, trip.StatusPaymentDue, final.Status)
	assert.Equal(t, "ch_f", final.PaymentChargeID)
}
