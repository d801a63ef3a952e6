package engine

import (
	"log/slog"
	"sync"

	"github.com/hailside/hailside/internal/trip"
)

// Change is published to subscribers after every registry mutation.
// It carries copies only; subscribers never see registry internals.
type Change struct {
	// Seq is the merge sequence of the update that caused the change.
	// Zero for telemetry-only changes on a rejected update.
	Seq int64

	// Outcome is the merge classification that produced this change.
	Outcome Outcome

	// Trip is the trip after the change.
	Trip trip.Trip

	// CurrentID/HasCurrent reflect the selector after the change.
	CurrentID  trip.ID
	HasCurrent bool
}

// Subscription is one registered observer. Obtain via Engine.Subscribe and
// release via Engine.Unsubscribe; an unsubscribed channel is closed, so
// range loops over Changes() terminate on teardown.
type Subscription struct {
	id int
	ch chan Change
}

// Changes returns the channel change notifications arrive on.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// bus fans registry changes out to subscribers.
//
// Delivery is non-blocking: the single-writer loop must never stall behind
// a slow observer, so a full subscriber buffer drops the change with a
// warning. Observers needing a complete picture read the registry, not the
// change stream.
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

func newBus() *bus {
	return &bus{subs: make(map[int]*Subscription)}
}

func (b *bus) subscribe(buffer int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan Change, buffer),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *bus) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

func (b *bus) publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- c:
		default:
			slog.Warn("dropping change for slow subscriber",
				"trip_id", c.Trip.ID,
				"seq", c.Seq,
			)
		}
	}
}

// closeAll closes every remaining subscription. Called on engine shutdown.
func (b *bus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
