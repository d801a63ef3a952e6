package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailside/hailside/internal/journal"
	"github.com/hailside/hailside/internal/trip"
)

func seedJournal(t *testing.T, entries ...trip.Update) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	for i, u := range entries {
		require.NoError(t, j.Record(context.Background(), u, int64(i+1), "applied"))
	}
	return path
}

func update(id trip.ID, status trip.Status, source trip.Source) trip.Update {
	return trip.Update{
		ID:             id,
		ProposedStatus: status,
		Source:         source,
		ReceivedAt:     time.Unix(1700000000, 0),
	}
}

func TestReplay_ConvergedJournal(t *testing.T) {
	path := seedJournal(t,
		update("T1", trip.StatusPending, trip.SourceLocal),
		update("T1", trip.StatusInbound, trip.SourcePush),
		update("T1", trip.StatusCompleted, trip.SourcePush),
	)

	out, err := executeCommand("replay", "--journal", path)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 3 entries across 1 trips")
	assert.Contains(t, out, "converged")
}

func TestReplay_DivergedJournalExitsFailure(t *testing.T) {
	// A regression recorded as accepted cannot be reproduced by the merge.
	path := seedJournal(t,
		update("T1", trip.StatusArrived, trip.SourcePush),
		update("T1", trip.StatusInbound, trip.SourcePoll),
	)

	out, err := executeCommand("replay", "--journal", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "DIVERGED")
}

func TestReplay_JSONFormat(t *testing.T) {
	path := seedJournal(t, update("T1", trip.StatusPending, trip.SourceLocal))

	out, err := executeCommand("--format", "json", "replay", "--journal", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTrace_PrintsTripHistory(t *testing.T) {
	path := seedJournal(t,
		update("T1", trip.StatusPending, trip.SourceLocal),
		update("T1", trip.StatusApproved, trip.SourcePush),
		update("T2", trip.StatusPending, trip.SourceLocal),
	)

	out, err := executeCommand("trace", "--journal", path, "T1")
	require.NoError(t, err)
	assert.Contains(t, out, "trip T1 (2 accepted updates)")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "APPROVED")
	assert.NotContains(t, out, "T2")
}

func TestTrace_UnknownTrip(t *testing.T) {
	path := seedJournal(t, update("T1", trip.StatusPending, trip.SourceLocal))

	out, err := executeCommand("trace", "--journal", path, "ghost")
	require.NoError(t, err)
	assert.Contains(t, out, "no journaled updates for trip ghost")
}
