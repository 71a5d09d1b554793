package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

var (
	windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

func TestExpand(t *testing.T) {
	got := Expand(`oarstat --gantt "{start},{end}" -J > {output}`, windowStart, windowEnd, "/tmp/out.json", time.UTC)
	assert.Equal(t, `oarstat --gantt "2024-03-01 00:00:00,2024-03-01 10:00:00" -J > /tmp/out.json`, got)

	paris, err := time.LoadLocation("Europe/Paris")
	if err == nil {
		got = Expand("{start}", windowStart, windowEnd, "", paris)
		assert.Equal(t, "2024-03-01 01:00:00", got)
	}

	assert.Equal(t, "no placeholders", Expand("no placeholders", windowStart, windowEnd, "x", time.UTC))
}

func TestLimitWriter(t *testing.T) {
	w := &limitWriter{limit: 5}
	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, _ = w.Write([]byte("defgh"))
	assert.Equal(t, 5, n)
	w.Write([]byte("ignored"))
	assert.Equal(t, "abcde [truncated]", w.String())
}

func TestCommandFetcher(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache", "oar.json")

	f := &CommandFetcher{
		Command:   `printf '%s|%s' "{start}" "{end}" > "{output}"`,
		CachePath: cache,
		Location:  time.UTC,
	}
	require.NoError(t, f.Fetch(context.Background(), windowStart, windowEnd))

	data, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01 00:00:00|2024-03-01 10:00:00", string(data))

	entries, err := os.ReadDir(filepath.Dir(cache))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".oarwatch-"), "temp file %s left behind", e.Name())
	}
}

func TestCommandFetcherCacheBusy(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "oar.json")
	unlock, err := lockCache(cache)
	require.NoError(t, err)

	f := &CommandFetcher{Command: `echo '{}' > {output}`, CachePath: cache}
	assert.ErrorIs(t, f.Fetch(context.Background(), windowStart, windowEnd), ErrCacheBusy)

	unlock()
	assert.NoError(t, f.Fetch(context.Background(), windowStart, windowEnd))
}

func TestCommandFetcherFailureKeepsCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "oar.json")
	require.NoError(t, os.WriteFile(cache, []byte("previous"), 0644))

	f := &CommandFetcher{Command: `echo "oarstat: connection refused" >&2; exit 3`, CachePath: cache}
	err := f.Fetch(context.Background(), windowStart, windowEnd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	data, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}

func TestCommandFetcherEmptyOutput(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "oar.json")
	f := &CommandFetcher{Command: "true", CachePath: cache}
	assert.Error(t, f.Fetch(context.Background(), windowStart, windowEnd))
	_, err := os.Stat(cache)
	assert.True(t, os.IsNotExist(err))
}

func TestCommandFetcherCancel(t *testing.T) {
	f := &CommandFetcher{Command: "sleep 10", CachePath: filepath.Join(t.TempDir(), "oar.json")}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	began := time.Now()
	err := f.Fetch(ctx, windowStart, windowEnd)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), 5*time.Second)
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")
	require.NoError(t, writeAtomic(path, strings.NewReader(`{"jobs":{}}`)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"jobs":{}}`, string(data))
}
