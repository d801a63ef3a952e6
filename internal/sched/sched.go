// Package sched provides the one scheduled-task abstraction shared by every
// polling concern: trip-history refresh and payment verification both run on
// a Task instead of growing their own timer loops.
package sched

import (
	"context"
	"sync"
	"time"
)

// Task invokes a callback at a fixed interval until stopped.
//
// The callback runs on the task's own goroutine; overlapping invocations
// cannot occur because the next tick is not serviced until the callback
// returns. Stopping discards any pending tick; cancellation has no side
// effect beyond the callback not running again.
type Task struct {
	interval  time.Duration
	fn        func(context.Context)
	immediate bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Option configures a Task.
type Option func(*Task)

// WithImmediate fires the callback once at start, before the first interval
// elapses.
func WithImmediate() Option {
	return func(t *Task) {
		t.immediate = true
	}
}

// New creates a task that will invoke fn every interval once started.
func New(interval time.Duration, fn func(context.Context), opts ...Option) *Task {
	t := &Task{
		interval: interval,
		fn:       fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the task goroutine. The task stops when ctx is cancelled
// or Stop is called. Starting an already-started task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return
	}
	t.started = true

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	go t.loop(ctx)
}

func (t *Task) loop(ctx context.Context) {
	defer close(t.done)

	if t.immediate {
		if ctx.Err() != nil {
			return
		}
		t.fn(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fn(ctx)
		}
	}
}

// Stop cancels the task and waits for the loop goroutine to exit.
// Idempotent; safe to call before Start (then a no-op).
func (t *Task) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
}

// Cancel stops the task without waiting for the loop goroutine. Safe to
// call from inside the task's own callback, where Stop would deadlock.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return
	}
	t.cancel()
}
