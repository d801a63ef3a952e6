package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hailside/hailside/internal/normalize"
)

// Scenario defines a conformance scenario: an ordered delivery of updates
// from every source plus assertions on the reconciled final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps are delivered to the engine in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final registry and poller state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one delivery. Exactly one of the fields must be set.
type Step struct {
	// Push is a raw gateway frame, normalized exactly like a live one.
	Push string `yaml:"push,omitempty"`

	// Poll is a snapshot fetch result.
	Poll *PollStep `yaml:"poll,omitempty"`

	// Local is a passenger action.
	Local *LocalStep `yaml:"local,omitempty"`

	// Payment runs a full verification cycle against scripted results.
	Payment *PaymentStep `yaml:"payment,omitempty"`
}

// PollStep delivers each row as one poll-sourced update.
type PollStep struct {
	Rows []Row `yaml:"rows"`
}

// Row mirrors a snapshot row.
type Row struct {
	ID          string     `yaml:"id"`
	Status      string     `yaml:"status"`
	Kind        string     `yaml:"kind,omitempty"`
	Price       *int64     `yaml:"price,omitempty"`
	Origin      string     `yaml:"origin,omitempty"`
	Destination string     `yaml:"destination,omitempty"`
	Location    string     `yaml:"location,omitempty"`
	Driver      *DriverRow `yaml:"driver,omitempty"`
}

// DriverRow mirrors a snapshot driver payload.
type DriverRow struct {
	ID        string   `yaml:"id"`
	Lng       *float64 `yaml:"lng,omitempty"`
	Lat       *float64 `yaml:"lat,omitempty"`
	Precision string   `yaml:"precision,omitempty"`
}

// LocalStep is one passenger action.
type LocalStep struct {
	// Action is one of request_share, request_hire, confirm_boarding,
	// cancel, select_payment.
	Action string `yaml:"action"`

	// Token fixes the request token for request actions, keeping ids
	// deterministic.
	Token string `yaml:"token,omitempty"`

	// Trip targets an existing trip for non-request actions.
	Trip string `yaml:"trip,omitempty"`

	Origin      string `yaml:"origin,omitempty"`
	Destination string `yaml:"destination,omitempty"`
	Location    string `yaml:"location,omitempty"`
	Price       int64  `yaml:"price,omitempty"`
	ChargeID    string `yaml:"charge_id,omitempty"`
}

// PaymentStep drives the verification poller to a terminal state with a
// scripted sequence of verify results.
type PaymentStep struct {
	Trip     string `yaml:"trip"`
	ChargeID string `yaml:"charge_id"`

	// Results script the verify answers: pending, success, failure. The
	// last entry repeats when attempts outnumber it.
	Results []string `yaml:"results"`

	// MaxAttempts overrides the attempt budget. Zero keeps the default.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of final_status, current, no_current, trip_count,
	// poller.
	Type string `yaml:"type"`

	// Trip targets a trip (final_status, current).
	Trip string `yaml:"trip,omitempty"`

	// Status is the expected final status (final_status).
	Status string `yaml:"status,omitempty"`

	// Count is the expected registry size (trip_count).
	Count int `yaml:"count,omitempty"`

	// State is the expected terminal poller state (poller).
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalStatus = "final_status"
	AssertCurrent     = "current"
	AssertNoCurrent   = "no_current"
	AssertTripCount   = "trip_count"
	AssertPoller      = "poller"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo fails loudly instead of silently skipping a step.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i+1, err)
		}
	}
	return nil
}

func validateStep(s Step) error {
	set := 0
	if s.Push != "" {
		set++
	}
	if s.Poll != nil {
		set++
	}
	if s.Local != nil {
		set++
	}
	if s.Payment != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of push, poll, local, payment must be set")
	}

	if s.Local != nil {
		switch s.Local.Action {
		case "request_share", "request_hire":
			if s.Local.Token == "" {
				return fmt.Errorf("request actions need a fixed token")
			}
		case "confirm_boarding", "cancel", "select_payment":
			if s.Local.Trip == "" {
				return fmt.Errorf("action %s needs a trip", s.Local.Action)
			}
		default:
			return fmt.Errorf("unknown local action %q", s.Local.Action)
		}
	}
	if s.Payment != nil {
		if s.Payment.Trip == "" || s.Payment.ChargeID == "" {
			return fmt.Errorf("payment step needs trip and charge_id")
		}
		if len(s.Payment.Results) == 0 {
			return fmt.Errorf("payment step needs at least one scripted result")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFinalStatus:
		if a.Trip == "" || a.Status == "" {
			return fmt.Errorf("final_status needs trip and status")
		}
	case AssertCurrent:
		if a.Trip == "" {
			return fmt.Errorf("current needs trip")
		}
	case AssertNoCurrent, AssertTripCount:
	case AssertPoller:
		if a.State == "" {
			return fmt.Errorf("poller needs state")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func (r Row) snapshotRow() normalize.SnapshotRow {
	row := normalize.SnapshotRow{
		ID:          r.ID,
		Status:      r.Status,
		Kind:        r.Kind,
		Price:       r.Price,
		Origin:      r.Origin,
		Destination: r.Destination,
		Location:    r.Location,
	}
	if r.Driver != nil {
		row.Driver = &normalize.DriverPayload{
			ID:        r.Driver.ID,
			Lng:       r.Driver.Lng,
			Lat:       r.Driver.Lat,
			Precision: r.Driver.Precision,
		}
	}
	return row
}
