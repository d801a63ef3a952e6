package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hailside/hailside/internal/trip"
)

// Recorder receives every accepted update for journaling. Implemented by
// the SQLite journal; nil when the engine runs without one.
type Recorder interface {
	Record(ctx context.Context, u trip.Update, seq int64, outcome string) error
}

// Engine is the single-writer reconciliation loop.
//
// Adapters (push, poll, local actions, payment poller) call Submit from any
// goroutine; the Run loop dequeues in arrival order and funnels every
// update through Registry.Merge. Accepted merges are stamped by the clock,
// journaled, re-run through the selector, and published on the bus.
//
// Thread-safety model:
//   - Submit: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Apply: single-threaded entry used by Run, replay, and the harness;
//     must not be called concurrently with a running loop
//   - Current / Trips / Trip: safe from any goroutine
type Engine struct {
	mu       sync.RWMutex // guards registry reads and current selection
	registry *Registry
	clock    *Clock
	queue    *updateQueue
	bus      *bus
	recorder Recorder

	current    trip.ID
	hasCurrent bool
}

// Option configures the engine.
type Option func(*Engine)

// WithRecorder attaches a journal recorder for accepted updates.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithClock replaces the merge-sequence clock. Used by replay to resume
// past the last journaled seq, and by tests for fixed stamping.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// AttachRecorder sets the journal recorder after construction. Replay
// builds the engine without one so feeding the journal back through the
// merge does not re-record it; callers resuming the session attach the
// journal once the rebuild is done.
func (e *Engine) AttachRecorder(r Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// New creates an engine with an empty registry.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: NewRegistry(),
		clock:    NewClock(),
		queue:    newUpdateQueue(),
		bus:      newBus(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit enqueues an update for the Run loop.
// Thread-safe. Returns false once the engine has stopped.
func (e *Engine) Submit(u trip.Update) bool {
	return e.queue.Enqueue(u)
}

// Run starts the single-writer loop. Blocks until the context is cancelled
// or Stop is called, then closes all subscriptions.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("reconciliation engine starting")
	defer e.bus.closeAll()

	for {
		u, ok := e.queue.TryDequeue()
		if ok {
			e.Apply(u)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// A coalesced wakeup token can outlive the dequeue that
			// consumed its updates, so an empty queue alone does not mean
			// shutdown. Only a closed and drained queue ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the update queue, causing Run to drain and return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Apply merges one update and performs the accepted-merge side effects:
// journal, selector, bus. It never returns an error; rejections come back
// as classified outcomes.
//
// Apply is the one mutation path. Outside the Run loop it is exported for
// journal replay and the conformance harness, which drive the engine
// synchronously.
func (e *Engine) Apply(u trip.Update) Result {
	e.mu.Lock()
	res := e.registry.Merge(u, e.clock.Next())

	if res.Outcome.Accepted() {
		// Selector re-runs after every accepted merge. Duplicates and
		// telemetry-only changes cannot move the selection.
		e.current, e.hasCurrent = e.registry.SelectCurrent(e.current)
	}
	current, hasCurrent := e.current, e.hasCurrent
	e.mu.Unlock()

	switch res.Outcome {
	case OutcomeCreated, OutcomeApplied:
		slog.Debug("update accepted",
			"trip_id", res.TripID,
			"status", res.Trip.Status,
			"source", u.Source,
			"seq", res.Seq,
			"outcome", res.Outcome.String(),
		)
		e.record(u, res)
		e.bus.publish(Change{
			Seq:        res.Seq,
			Outcome:    res.Outcome,
			Trip:       *res.Trip,
			CurrentID:  current,
			HasCurrent: hasCurrent,
		})

	case OutcomeDuplicate:
		slog.Debug("duplicate update ignored",
			"trip_id", res.TripID,
			"status", u.ProposedStatus,
			"source", u.Source,
		)

	case OutcomeStale, OutcomeTerminal:
		slog.Debug("update rejected",
			"trip_id", res.TripID,
			"proposed", u.ProposedStatus,
			"current", res.Trip.Status,
			"source", u.Source,
			"reason", res.Err.Code,
		)
		if res.TelemetryApplied {
			e.bus.publish(Change{
				Outcome:    res.Outcome,
				Trip:       *res.Trip,
				CurrentID:  current,
				HasCurrent: hasCurrent,
			})
		}

	default:
		// Malformed or unknown status: dropped, never fatal.
		slog.Warn("update dropped",
			"trip_id", u.ID,
			"proposed", u.ProposedStatus,
			"source", u.Source,
			"reason", res.Err.Code,
		)
	}

	return res
}

func (e *Engine) record(u trip.Update, res Result) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(context.Background(), u, res.Seq, res.Outcome.String())
	if err != nil {
		// Journal faults must not stall reconciliation.
		slog.Error("journal write failed",
			"trip_id", res.TripID,
			"seq", res.Seq,
			"error", err,
		)
	}
}

// Current returns the currently tracked trip id, if any.
func (e *Engine) Current() (trip.ID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current, e.hasCurrent
}

// Trip returns a copy of one trip from the registry.
func (e *Engine) Trip(id trip.ID) (trip.Trip, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Get(id)
}

// Trips returns copies of all trips in insertion order.
func (e *Engine) Trips() []trip.Trip {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Snapshot()
}

// ActiveTrips returns copies of the active subset in insertion order.
func (e *Engine) ActiveTrips() []trip.Trip {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Active()
}

// Subscribe registers a change observer with the given channel buffer.
func (e *Engine) Subscribe(buffer int) *Subscription {
	return e.bus.subscribe(buffer)
}

// Unsubscribe releases a subscription and closes its channel.
func (e *Engine) Unsubscribe(sub *Subscription) {
	e.bus.unsubscribe(sub)
}

// Clock returns the engine's merge-sequence clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of pending updates. Useful for monitoring
// and tests.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}
