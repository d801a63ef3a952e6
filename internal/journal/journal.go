// Package journal persists every accepted trip update for the current
// session. It is a diagnostic record, not trip history: the replay and
// trace commands read it back, and nothing in the merge path depends on
// it. Appends are idempotent so a crash between merge and journal write
// cannot corrupt the record on re-delivery.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hailside/hailside/internal/trip"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Journal is a SQLite-backed record of accepted updates. It implements
// engine.Recorder.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path. Applies pragmas and
// migrations; idempotent.
//
// The database runs in WAL mode with NORMAL synchronous writes, a 5-second
// busy timeout, and foreign keys on. SQLite allows one writer at a time,
// so the pool is pinned to a single connection.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one accepted update. ON CONFLICT DO NOTHING makes
// re-delivery of an already-journaled (trip_id, seq) pair a no-op.
func (j *Journal) Record(ctx context.Context, u trip.Update, seq int64, outcome string) error {
	fields, err := json.Marshal(u.Fields)
	if err != nil {
		return fmt.Errorf("encode fields for trip %s: %w", u.ID, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO accepted_updates
		(trip_id, seq, status, source, outcome, fields, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trip_id, seq) DO NOTHING
	`,
		string(u.ID),
		seq,
		string(u.ProposedStatus),
		string(u.Source),
		outcome,
		string(fields),
		u.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal update for trip %s: %w", u.ID, err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}
