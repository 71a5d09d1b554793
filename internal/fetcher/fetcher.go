package fetcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexflint/go-filemutex"
)

// ErrCacheBusy is returned when another process is already refreshing the
// same cache file.
var ErrCacheBusy = errors.New("cache is being refreshed by another process")

// TimeLayout is the timestamp format oarstat expects for --gantt windows.
const TimeLayout = "2006-01-02 15:04:05"

// Expand fills the {start}, {end} and {output} placeholders of a command
// template. Times are rendered in loc, or in the local zone when loc is nil.
func Expand(template string, start, end time.Time, output string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return strings.NewReplacer(
		"{start}", start.In(loc).Format(TimeLayout),
		"{end}", end.In(loc).Format(TimeLayout),
		"{output}", output,
	).Replace(template)
}

// tempPath reserves a file next to path so the final rename stays on one
// filesystem.
func tempPath(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".oarwatch-*.json")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// lockCache takes an exclusive lock next to the cache file for the length of
// a fetch. Like the in-process gate, a busy lock drops the request.
func lockCache(path string) (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	m, err := filemutex.New(path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("creating cache lock: %w", err)
	}
	if err := m.TryLock(); err != nil {
		m.Close()
		return nil, fmt.Errorf("%w: %s", ErrCacheBusy, path)
	}
	return func() {
		m.Unlock()
		m.Close()
	}, nil
}

// writeAtomic replaces path with the contents of r. Readers never see a
// partial file; on error the previous file is left in place.
func writeAtomic(path string, r io.Reader) error {
	tmp, err := tempPath(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("opening temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

// MaxOutput caps how much command output is kept for error messages.
const MaxOutput = 4 << 10

type limitWriter struct {
	buf     strings.Builder
	written int
	limit   int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.written >= l.limit {
		l.written += len(p)
		return len(p), nil
	}
	if l.written+len(p) > l.limit {
		l.buf.Write(p[:l.limit-l.written])
		l.buf.WriteString(" [truncated]")
		l.written += len(p)
		return len(p), nil
	}
	l.buf.Write(p)
	l.written += len(p)
	return len(p), nil
}

func (l *limitWriter) String() string {
	return strings.TrimSpace(l.buf.String())
}

func commandError(what string, err error, output *limitWriter) error {
	if out := output.String(); out != "" {
		return fmt.Errorf("%s: %w: %s", what, err, out)
	}
	return fmt.Errorf("%s: %w", what, err)
}
