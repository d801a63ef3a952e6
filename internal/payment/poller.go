package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hailside/hailside/internal/sched"
	"github.com/hailside/hailside/internal/trip"
)

// State is the poller lifecycle for one charge.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// Terminal reports whether the state ends a verification cycle.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// ErrChargeFailed means the collaborator reported the charge as failed.
// The trip keeps its pre-payment status so the passenger can retry.
var ErrChargeFailed = errors.New("payment charge failed")

// ErrVerifyTimeout means the attempt budget ran out with the charge still
// pending. Deliberately distinct from ErrChargeFailed: the caller should
// offer a manual recheck rather than treat the charge as failed.
var ErrVerifyTimeout = errors.New("payment verification timed out")

// ErrCancelled means the cycle was superseded or explicitly cancelled.
var ErrCancelled = errors.New("payment verification cancelled")

// Outcome is the terminal report for one verification cycle.
type Outcome struct {
	State    State
	ChargeID string
	Attempts int
	Err      error
}

// Defaults match the platform's verification contract.
const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 20
)

// Submitter delivers the completion update back into the reconciliation
// engine. Matches engine.(*Engine).Submit.
type Submitter func(trip.Update) bool

// Poller drives the bounded payment-verification retry loop for one charge
// at a time.
//
// Starting a new charge cancels any in-flight cycle; explicit Cancel does
// the same. The poller's only side effect on trip state is submitting a
// Completed update through the engine when verification succeeds.
// Failures and timeouts leave the trip untouched and are surfaced on the
// outcome channel.
type Poller struct {
	verifier    Verifier
	submit      Submitter
	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	state    State
	chargeID string
	tripID   trip.ID
	attempts int
	task     *sched.Task
	result   chan Outcome
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides the delay between verification attempts.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) PollerOption {
	return func(p *Poller) {
		p.maxAttempts = n
	}
}

// NewPoller creates an idle poller.
func NewPoller(verifier Verifier, submit Submitter, opts ...PollerOption) *Poller {
	p := &Poller{
		verifier:    verifier,
		submit:      submit,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins a verification cycle for one charge and returns the channel
// the terminal outcome will arrive on. Any in-flight cycle for a previous
// charge is cancelled first.
//
// The poller reaches a terminal state within maxAttempts*interval of
// starting, for every verifier behavior.
func (p *Poller) Start(ctx context.Context, tripID trip.ID, chargeID string) <-chan Outcome {
	p.cancel(ErrCancelled)

	p.mu.Lock()
	p.state = StateProcessing
	p.chargeID = chargeID
	p.tripID = tripID
	p.attempts = 0
	p.result = make(chan Outcome, 1)
	result := p.result

	task := sched.New(p.interval, func(ctx context.Context) {
		p.attempt(ctx, chargeID)
	})
	p.task = task
	p.mu.Unlock()

	slog.Info("payment verification started",
		"trip_id", tripID,
		"charge_id", chargeID,
		"interval", p.interval,
		"max_attempts", p.maxAttempts,
	)
	task.Start(ctx)
	return result
}

// Cancel stops any in-flight cycle. The pending outcome channel receives a
// cancelled outcome. Idempotent.
func (p *Poller) Cancel() {
	p.cancel(ErrCancelled)
}

// State returns the current poller state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ChargeID returns the charge of the current or last cycle.
func (p *Poller) ChargeID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chargeID
}

// attempt performs one verification call and classifies the result.
// Runs on the task goroutine; never overlaps itself.
func (p *Poller) attempt(ctx context.Context, chargeID string) {
	p.mu.Lock()
	if p.state != StateProcessing || p.chargeID != chargeID {
		p.mu.Unlock()
		return
	}
	p.attempts++
	attempt := p.attempts
	tripID := p.tripID
	p.mu.Unlock()

	status, err := p.verifier.Verify(ctx, chargeID)
	if err != nil {
		// Transport or protocol fault: the attempt is spent, the charge
		// is still undecided.
		slog.Warn("payment verification attempt failed",
			"charge_id", chargeID,
			"attempt", attempt,
			"error", err,
		)
		status = VerifyPending
	}

	switch status {
	case VerifySuccess:
		out, result, ok := p.settle(chargeID, StateSucceeded, nil)
		if !ok {
			// The cycle was cancelled or superseded while the call was in
			// flight; a late success belongs to no one and must not
			// complete the trip.
			return
		}
		// Submit before delivering so the completion update is already in
		// the engine when the outcome is observed.
		cleared := ""
		p.submit(trip.Update{
			ID:             tripID,
			ProposedStatus: trip.StatusCompleted,
			Fields:         trip.Fields{ChargeID: &cleared},
			Source:         trip.SourceLocal,
			ReceivedAt:     time.Now(),
		})
		p.deliver(out, result)

	case VerifyFailure:
		err := fmt.Errorf("charge %s: %w", chargeID, ErrChargeFailed)
		if out, result, ok := p.settle(chargeID, StateFailed, err); ok {
			p.deliver(out, result)
		}

	case VerifyPending:
		if attempt >= p.maxAttempts {
			err := fmt.Errorf("charge %s after %d attempts: %w", chargeID, attempt, ErrVerifyTimeout)
			if out, result, ok := p.settle(chargeID, StateTimedOut, err); ok {
				p.deliver(out, result)
			}
		}
	}
}

// settle claims the cycle for chargeID exactly once and detaches the
// timer. Returns ok=false when the cycle was already settled, cancelled,
// or superseded; the caller owns delivery (and any side effects before it)
// only when ok is true.
func (p *Poller) settle(chargeID string, state State, err error) (Outcome, chan Outcome, bool) {
	p.mu.Lock()
	if p.state != StateProcessing || p.chargeID != chargeID {
		p.mu.Unlock()
		return Outcome{}, nil, false
	}
	p.state = state
	task := p.task
	p.task = nil
	out := Outcome{
		State:    state,
		ChargeID: chargeID,
		Attempts: p.attempts,
		Err:      err,
	}
	result := p.result
	p.result = nil
	p.mu.Unlock()

	if task != nil {
		// Cancel, not Stop: settle runs on the task's own goroutine.
		task.Cancel()
	}
	return out, result, true
}

func (p *Poller) deliver(out Outcome, result chan Outcome) {
	slog.Info("payment verification settled",
		"charge_id", out.ChargeID,
		"state", out.State,
		"attempts", out.Attempts,
	)
	if result != nil {
		result <- out
	}
}

// cancel settles an in-flight cycle as idle with the given error.
func (p *Poller) cancel(err error) {
	p.mu.Lock()
	if p.state != StateProcessing {
		p.mu.Unlock()
		return
	}
	p.state = StateIdle
	task := p.task
	p.task = nil
	out := Outcome{
		State:    StateIdle,
		ChargeID: p.chargeID,
		Attempts: p.attempts,
		Err:      err,
	}
	result := p.result
	p.result = nil
	p.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	if result != nil {
		result <- out
	}

	slog.Info("payment verification cancelled", "charge_id", out.ChargeID)
}
