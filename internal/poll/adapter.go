// Package poll periodically fetches the passenger's trip snapshot over
// HTTP and feeds each row into the engine. The snapshot is authoritative
// in coverage but laggy in freshness: stale rows are expected and are
// rejected downstream by the merge, so this adapter never filters them.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hailside/hailside/internal/normalize"
	"github.com/hailside/hailside/internal/sched"
	"github.com/hailside/hailside/internal/trip"
)

// DefaultInterval is the snapshot refresh period.
const DefaultInterval = 15 * time.Second

// Submitter delivers a normalized update into the reconciliation engine.
type Submitter func(trip.Update) bool

// Adapter fetches trip snapshots on a fixed interval.
type Adapter struct {
	baseURL     string
	passengerID string
	submit      Submitter
	http        *http.Client
	interval    time.Duration
	task        *sched.Task
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithInterval overrides the refresh period.
func WithInterval(d time.Duration) Option {
	return func(a *Adapter) {
		a.interval = d
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		a.http = c
	}
}

// New creates an adapter polling {baseURL}/passengers/{passengerID}/trips.
func New(baseURL, passengerID string, submit Submitter, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:     baseURL,
		passengerID: passengerID,
		submit:      submit,
		http:        &http.Client{Timeout: 10 * time.Second},
		interval:    DefaultInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins polling, fetching once immediately so startup does not wait
// a full interval for the first snapshot.
func (a *Adapter) Start(ctx context.Context) {
	a.task = sched.New(a.interval, a.tick, sched.WithImmediate())
	a.task.Start(ctx)
}

// Stop halts polling and waits for any in-flight fetch to finish.
func (a *Adapter) Stop() {
	if a.task != nil {
		a.task.Stop()
	}
}

// Fetch performs one snapshot fetch and submits every row. Exposed so the
// CLI can force a refresh outside the schedule.
func (a *Adapter) Fetch(ctx context.Context) error {
	rows, err := a.snapshot(ctx)
	if err != nil {
		return err
	}

	dropped := 0
	for _, row := range rows {
		u, err := normalize.PollUpdate(row, time.Now())
		if err != nil {
			dropped++
			slog.Warn("snapshot row dropped", "trip_id", row.ID, "error", err)
			continue
		}
		a.submit(u)
	}

	slog.Debug("snapshot applied",
		"passenger_id", a.passengerID,
		"rows", len(rows),
		"dropped", dropped,
	)
	return nil
}

func (a *Adapter) tick(ctx context.Context) {
	if err := a.Fetch(ctx); err != nil {
		// Connectivity faults stay local; the next tick retries.
		slog.Warn("snapshot fetch failed", "passenger_id", a.passengerID, "error", err)
	}
}

func (a *Adapter) snapshot(ctx context.Context) ([]normalize.SnapshotRow, error) {
	url := fmt.Sprintf("%s/passengers/%s/trips", a.baseURL, a.passengerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: unexpected status %d", resp.StatusCode)
	}

	var rows []normalize.SnapshotRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return rows, nil
}
