// Package harness executes conformance scenarios against the real
// reconciliation engine. A scenario delivers updates from every source
// through the same merge the live client uses; nothing is stubbed except
// the payment collaborator, whose verify answers the scenario scripts.
package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hailside/hailside/internal/engine"
	"github.com/hailside/hailside/internal/local"
	"github.com/hailside/hailside/internal/normalize"
	"github.com/hailside/hailside/internal/payment"
	"github.com/hailside/hailside/internal/trip"
)

// TraceEvent is one merge decision in scenario order.
type TraceEvent struct {
	Seq     int64       `json:"seq"`
	TripID  trip.ID     `json:"trip_id"`
	Status  trip.Status `json:"status"`
	Source  trip.Source `json:"source"`
	Outcome string      `json:"outcome"`
}

// PollerResult is the terminal state of the last payment step.
type PollerResult struct {
	State    payment.State `json:"state"`
	Attempts int           `json:"attempts"`
	Err      string        `json:"error,omitempty"`
}

// Result is the reconciled final state after a scenario run.
type Result struct {
	Trips      []trip.Trip
	Current    trip.ID
	HasCurrent bool
	Trace      []TraceEvent
	Poller     *PollerResult

	// Failures lists assertion violations. Empty means the scenario
	// passed.
	Failures []string
}

// Passed reports whether every assertion held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Run executes a scenario against a fresh engine and evaluates its
// assertions. Steps are applied synchronously, so the trace order is the
// delivery order.
func Run(scenario *Scenario) (*Result, error) {
	eng := engine.New()
	result := &Result{Trace: []TraceEvent{}}

	// Scenario time advances one second per step for reproducible runs.
	base := time.Unix(1700000000, 0)

	apply := func(u trip.Update) {
		res := eng.Apply(u)
		result.Trace = append(result.Trace, TraceEvent{
			Seq:     res.Seq,
			TripID:  u.ID,
			Status:  u.ProposedStatus,
			Source:  u.Source,
			Outcome: res.Outcome.String(),
		})
	}

	for i, step := range scenario.Steps {
		at := base.Add(time.Duration(i) * time.Second)
		var err error
		switch {
		case step.Push != "":
			err = runPush(apply, step.Push, at)
		case step.Poll != nil:
			err = runPoll(apply, step.Poll, at)
		case step.Local != nil:
			err = runLocal(apply, step.Local, at)
		case step.Payment != nil:
			err = runPayment(eng, result, step.Payment)
		}
		if err != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", scenario.Name, i+1, err)
		}
	}

	result.Trips = eng.Trips()
	result.Current, result.HasCurrent = eng.Current()
	evaluateAssertions(scenario, result)
	return result, nil
}

func runPush(apply func(trip.Update), frame string, at time.Time) error {
	u, err := normalize.PushUpdate([]byte(frame), at)
	if err != nil {
		return fmt.Errorf("push frame: %w", err)
	}
	apply(u)
	return nil
}

func runPoll(apply func(trip.Update), step *PollStep, at time.Time) error {
	for _, row := range step.Rows {
		u, err := normalize.PollUpdate(row.snapshotRow(), at)
		if err != nil {
			return fmt.Errorf("poll row %s: %w", row.ID, err)
		}
		apply(u)
	}
	return nil
}

func runLocal(apply func(trip.Update), step *LocalStep, at time.Time) error {
	submit := func(u trip.Update) bool {
		u.ReceivedAt = at
		apply(u)
		return true
	}

	switch step.Action {
	case "request_share":
		actions := local.NewActions(submit, local.NewFixedGenerator(step.Token))
		actions.RequestShare(trip.Route{Origin: step.Origin, Destination: step.Destination}, step.Price)
	case "request_hire":
		actions := local.NewActions(submit, local.NewFixedGenerator(step.Token))
		actions.RequestHire(trip.Route{Location: step.Location}, step.Price)
	case "confirm_boarding":
		local.NewActions(submit, nil).ConfirmBoarding(trip.ID(step.Trip))
	case "cancel":
		local.NewActions(submit, nil).CancelTrip(trip.ID(step.Trip))
	case "select_payment":
		local.NewActions(submit, nil).SelectPayment(trip.ID(step.Trip), step.ChargeID)
	}
	return nil
}

func runPayment(eng *engine.Engine, result *Result, step *PaymentStep) error {
	script := make([]payment.VerifyStatus, len(step.Results))
	for i, r := range step.Results {
		switch r {
		case "pending", "success", "failure":
			script[i] = payment.VerifyStatus(r)
		default:
			return fmt.Errorf("unknown verify result %q", r)
		}
	}

	opts := []payment.PollerOption{payment.WithInterval(time.Millisecond)}
	if step.MaxAttempts > 0 {
		opts = append(opts, payment.WithMaxAttempts(step.MaxAttempts))
	}

	// The poller settles its outcome only after submit returns, so this
	// append is ordered before the harness reads the trace.
	submit := func(u trip.Update) bool {
		res := eng.Apply(u)
		result.Trace = append(result.Trace, TraceEvent{
			Seq:     res.Seq,
			TripID:  u.ID,
			Status:  u.ProposedStatus,
			Source:  u.Source,
			Outcome: res.Outcome.String(),
		})
		return true
	}

	poller := payment.NewPoller(&scriptVerifier{script: script}, submit, opts...)
	outcome := <-poller.Start(context.Background(), trip.ID(step.Trip), step.ChargeID)

	pr := &PollerResult{State: outcome.State, Attempts: outcome.Attempts}
	if outcome.Err != nil {
		pr.Err = outcome.Err.Error()
	}
	result.Poller = pr
	return nil
}

// scriptVerifier replays scripted verify answers, repeating the last one.
type scriptVerifier struct {
	mu     sync.Mutex
	script []payment.VerifyStatus
	calls  int
}

func (v *scriptVerifier) Initiate(context.Context, trip.ID, int64, string) (string, error) {
	return "", fmt.Errorf("harness verifier does not initiate charges")
}

func (v *scriptVerifier) Verify(context.Context, string) (payment.VerifyStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.calls
	v.calls++
	if i >= len(v.script) {
		i = len(v.script) - 1
	}
	return v.script[i], nil
}
