package events

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angariumd/oarwatch/internal/db"
	"github.com/angariumd/oarwatch/internal/refresh"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func openDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, database.Init())
	t.Cleanup(func() { database.Close() })
	return database
}

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func result(i int, outcome refresh.Outcome) refresh.Result {
	res := refresh.Result{
		CycleID:   uuid.New(),
		Trigger:   refresh.TriggerPeriodic,
		Outcome:   outcome,
		Start:     t0.Add(-time.Hour),
		End:       t0.Add(time.Hour),
		Jobs:      10 + i,
		Resources: 64,
		StartedAt: t0.Add(time.Duration(i) * time.Minute),
		Duration:  1500 * time.Millisecond,
	}
	if outcome != refresh.OutcomeSuccess {
		res.Err = errors.New("ssh: handshake failed")
	}
	return res
}

func TestJournalRecordsAndPrunes(t *testing.T) {
	database := openDB(t)
	j := New(database, 2)

	j.Record(result(0, refresh.OutcomeSuccess))
	j.Record(result(1, refresh.OutcomeSuccess))
	j.Record(result(2, refresh.OutcomeConnectivityError))
	j.Close()

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	newest := entries[0]
	assert.Equal(t, t0.Add(2*time.Minute), newest.At)
	assert.Equal(t, "connectivity_error", newest.Outcome)
	assert.Equal(t, "periodic", newest.Trigger)
	assert.Equal(t, "ssh: handshake failed", newest.Error)
	assert.Equal(t, 1500*time.Millisecond, newest.Duration)
	assert.Equal(t, t0.Add(-time.Hour), newest.WindowStart)
	assert.Equal(t, t0.Add(time.Hour), newest.WindowEnd)

	older := entries[1]
	assert.Equal(t, 11, older.Jobs)
	assert.Empty(t, older.Error)

	last, ok, err := j.LastSuccess()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), last.At)
}

func TestJournalFlushesOnTicker(t *testing.T) {
	database := openDB(t)
	j := New(database, 10)
	defer j.Close()

	j.Record(result(0, refresh.OutcomeSuccess))
	require.Eventually(t, func() bool {
		entries, err := Recent(database, 10)
		return err == nil && len(entries) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLastSuccessEmpty(t *testing.T) {
	database := openDB(t)
	_, ok, err := LastSuccess(database)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := Recent(database, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCloseIsIdempotent(t *testing.T) {
	j := New(openDB(t), 1)
	j.Close()
	j.Close()
}
