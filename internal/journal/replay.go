package journal

import (
	"context"
	"fmt"

	"github.com/hailside/hailside/internal/engine"
	"github.com/hailside/hailside/internal/trip"
)

// Divergence is a trip whose replayed final status does not match the last
// status the journal recorded for it.
type Divergence struct {
	TripID   trip.ID
	Journal  trip.Status
	Replayed trip.Status
}

// Report summarizes one replay run.
type Report struct {
	Entries     int
	Trips       int
	Divergences []Divergence
}

// Converged reports whether the replay reproduced every journaled final
// status.
func (r Report) Converged() bool {
	return len(r.Divergences) == 0
}

// Replay feeds the journal through a fresh reconciliation engine and
// checks that each trip converges to the status the journal last recorded
// for it. A divergence means the merge rules changed since the journal was
// written, or the journal itself is damaged.
//
// The rebuilt engine is returned so callers can inspect the replayed
// state or continue the session. Its clock is advanced past the highest
// journaled seq, so updates applied after the replay never collide with
// existing (trip_id, seq) rows.
func (j *Journal) Replay(ctx context.Context) (*engine.Engine, Report, error) {
	entries, err := j.ReadAll(ctx)
	if err != nil {
		return nil, Report{}, fmt.Errorf("replay: %w", err)
	}

	eng := engine.New()
	last := map[trip.ID]trip.Status{}
	var maxSeq int64
	for _, e := range entries {
		eng.Apply(trip.Update{
			ID:             e.TripID,
			ProposedStatus: e.Status,
			Fields:         e.Fields,
			Source:         e.Source,
			ReceivedAt:     e.ReceivedAt,
		})
		last[e.TripID] = e.Status
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	eng.Clock().AdvanceTo(maxSeq)

	report := Report{
		Entries: len(entries),
		Trips:   len(last),
	}
	for id, want := range last {
		replayed, ok := eng.Trip(id)
		if !ok {
			report.Divergences = append(report.Divergences, Divergence{
				TripID:  id,
				Journal: want,
			})
			continue
		}
		if replayed.Status != want {
			report.Divergences = append(report.Divergences, Divergence{
				TripID:   id,
				Journal:  want,
				Replayed: replayed.Status,
			})
		}
	}
	return eng, report, nil
}
