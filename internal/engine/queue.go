package engine

import (
	"sync"

	"github.com/hailside/hailside/internal/trip"
)

// updateQueue is a thread-safe FIFO queue of normalized trip updates.
//
// The queue is unbounded: a poll snapshot can fan out into one update per
// row, and adapters must never block on the engine. Thread-safety covers
// external submission (websocket reader, poll task, payment poller) while
// the engine's Run loop dequeues.
//
// A buffered signal channel of size 1 coalesces wakeups so the Run loop can
// wait with context awareness instead of blocking on a mutex.
type updateQueue struct {
	mu      sync.Mutex
	updates []trip.Update
	closed  bool
	signal  chan struct{}
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{
		updates: make([]trip.Update, 0, 32),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an update to the back of the queue.
// Thread-safe. Returns false if the queue is closed.
func (q *updateQueue) Enqueue(u trip.Update) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.updates = append(q.updates, u)

	// Non-blocking send: a full buffer already means a wakeup is pending.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (trip.Update{}, false) if the queue is empty.
func (q *updateQueue) TryDequeue() (trip.Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.updates) == 0 {
		return trip.Update{}, false
	}

	u := q.updates[0]

	// Zero the slot so the backing array does not retain field pointers.
	q.updates[0] = trip.Update{}

	if len(q.updates) == 1 {
		// Reset to reuse the original capacity.
		q.updates = q.updates[:0]
	} else {
		q.updates = q.updates[1:]
	}

	return u, true
}

// Wait returns a channel that signals when updates may be available.
// The channel closes when the queue closes, waking all waiters.
func (q *updateQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close has been called.
func (q *updateQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the current queue length.
func (q *updateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.updates)
}

// Close marks the queue closed and wakes any waiters.
// Further Enqueue calls return false. Idempotent.
func (q *updateQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
