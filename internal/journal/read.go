package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hailside/hailside/internal/trip"
)

// Entry is one journaled accepted update.
type Entry struct {
	Seq        int64
	TripID     trip.ID
	Status     trip.Status
	Source     trip.Source
	Outcome    string
	Fields     trip.Fields
	ReceivedAt time.Time
}

// ReadTrip returns the accepted-update history of one trip in merge order.
// Returns an empty slice when the trip never appears.
func (j *Journal) ReadTrip(ctx context.Context, id trip.ID) ([]Entry, error) {
	return j.read(ctx, `
		SELECT trip_id, seq, status, source, outcome, fields, received_at
		FROM accepted_updates
		WHERE trip_id = ?
		ORDER BY seq ASC, trip_id COLLATE BINARY ASC
	`, string(id))
}

// ReadAll returns every journaled update in merge order.
func (j *Journal) ReadAll(ctx context.Context) ([]Entry, error) {
	return j.read(ctx, `
		SELECT trip_id, seq, status, source, outcome, fields, received_at
		FROM accepted_updates
		ORDER BY seq ASC, trip_id COLLATE BINARY ASC
	`)
}

func (j *Journal) read(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e          Entry
		tripID     string
		status     string
		source     string
		fieldsJSON string
		receivedMs int64
	)
	if err := rows.Scan(&tripID, &e.Seq, &status, &source, &e.Outcome, &fieldsJSON, &receivedMs); err != nil {
		return Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
		return Entry{}, fmt.Errorf("decode fields for trip %s seq %d: %w", tripID, e.Seq, err)
	}

	e.TripID = trip.ID(tripID)
	e.Status = trip.Status(status)
	e.Source = trip.Source(source)
	e.ReceivedAt = time.UnixMilli(receivedMs)
	return e, nil
}
