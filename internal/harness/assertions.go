package harness

import (
	"fmt"

	"github.com/hailside/hailside/internal/trip"
)

// evaluateAssertions records every violated assertion on the result.
func evaluateAssertions(scenario *Scenario, result *Result) {
	for i, a := range scenario.Assertions {
		if msg := evaluate(a, result); msg != "" {
			result.Failures = append(result.Failures,
				fmt.Sprintf("assertion %d (%s): %s", i+1, a.Type, msg))
		}
	}
}

func evaluate(a Assertion, result *Result) string {
	switch a.Type {
	case AssertFinalStatus:
		got, ok := findTrip(result, trip.ID(a.Trip))
		if !ok {
			return fmt.Sprintf("trip %s not in registry", a.Trip)
		}
		want, known := trip.ParseStatus(a.Status)
		if !known {
			return fmt.Sprintf("expected status %q is not a lifecycle status", a.Status)
		}
		if got.Status != want {
			return fmt.Sprintf("trip %s has status %s, want %s", a.Trip, got.Status, want)
		}

	case AssertCurrent:
		if !result.HasCurrent {
			return fmt.Sprintf("no current trip, want %s", a.Trip)
		}
		if result.Current != trip.ID(a.Trip) {
			return fmt.Sprintf("current trip is %s, want %s", result.Current, a.Trip)
		}

	case AssertNoCurrent:
		if result.HasCurrent {
			return fmt.Sprintf("current trip is %s, want none", result.Current)
		}

	case AssertTripCount:
		if len(result.Trips) != a.Count {
			return fmt.Sprintf("registry holds %d trips, want %d", len(result.Trips), a.Count)
		}

	case AssertPoller:
		if result.Poller == nil {
			return "no payment step ran"
		}
		if string(result.Poller.State) != a.State {
			return fmt.Sprintf("poller state is %s, want %s", result.Poller.State, a.State)
		}
	}
	return ""
}

func findTrip(result *Result, id trip.ID) (trip.Trip, bool) {
	for _, t := range result.Trips {
		if t.ID == id {
			return t, true
		}
	}
	return trip.Trip{}, false
}
