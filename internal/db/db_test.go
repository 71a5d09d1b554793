package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInit(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.Init())
	require.NoError(t, database.Init(), "schema creation is idempotent")

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestTimeScan(t *testing.T) {
	want := time.Date(2024, 3, 1, 8, 30, 15, 250e6, time.UTC)

	var got Time
	require.NoError(t, got.Scan(FormatTime(want)))
	assert.Equal(t, want, got.Time)

	require.NoError(t, got.Scan([]byte("2024-03-01 08:30:15")))
	assert.Equal(t, want.Truncate(time.Second), got.Time)

	require.NoError(t, got.Scan(want.In(time.FixedZone("CET", 3600))))
	assert.Equal(t, want, got.Time)

	require.NoError(t, got.Scan(nil))
	assert.True(t, got.IsZero())

	assert.Error(t, got.Scan("yesterday"))
	assert.Error(t, got.Scan(42))
}
