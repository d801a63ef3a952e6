package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/hailside/hailside/internal/trip"
)

// Snapshot is the serialized final state compared against golden files.
type Snapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Trace        []TraceEvent  `json:"trace"`
	Trips        []trip.Trip   `json:"trips"`
	Current      trip.ID       `json:"current,omitempty"`
	Poller       *PollerResult `json:"poller,omitempty"`
}

// RunWithGolden executes a scenario, fails the test on any assertion
// violation, and compares the final-state snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, failure := range result.Failures {
		t.Error(failure)
	}

	snapshot := Snapshot{
		ScenarioName: scenario.Name,
		Trace:        result.Trace,
		Trips:        result.Trips,
		Poller:       result.Poller,
	}
	if result.HasCurrent {
		snapshot.Current = result.Current
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
