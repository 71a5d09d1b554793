package sorting

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/angariumd/oarwatch/internal/models"
)

var ErrUnknownKey = errors.New("unknown sort key")

type Key int

const (
	KeyID Key = iota
	KeyOwner
	KeyState
	KeyStartTime
	KeyWallTime
	KeyQueue
	KeyCommand
	KeyMessage
	KeySubmissionTime
	KeyScheduledStartTime
	KeyStopTime
	KeyExitCode
	KeyClusters
)

type column struct {
	name    string
	compare func(a, b *models.Job) int
}

var columns = [...]column{
	KeyID:                 {"id", func(a, b *models.Job) int { return cmp.Compare(a.ID, b.ID) }},
	KeyOwner:              {"owner", func(a, b *models.Job) int { return strings.Compare(a.Owner, b.Owner) }},
	KeyState:              {"state", func(a, b *models.Job) int { return cmp.Compare(a.State, b.State) }},
	KeyStartTime:          {"start_time", func(a, b *models.Job) int { return cmp.Compare(a.StartTime, b.StartTime) }},
	KeyWallTime:           {"walltime", func(a, b *models.Job) int { return cmp.Compare(a.WallTime, b.WallTime) }},
	KeyQueue:              {"queue", func(a, b *models.Job) int { return strings.Compare(a.Queue, b.Queue) }},
	KeyCommand:            {"command", func(a, b *models.Job) int { return strings.Compare(a.Command, b.Command) }},
	KeyMessage:            {"message", func(a, b *models.Job) int { return compareOptional(a.Message, b.Message) }},
	KeySubmissionTime:     {"submission_time", func(a, b *models.Job) int { return cmp.Compare(a.SubmissionTime, b.SubmissionTime) }},
	KeyScheduledStartTime: {"scheduled_start", func(a, b *models.Job) int { return cmp.Compare(a.ScheduledStart, b.ScheduledStart) }},
	KeyStopTime:           {"stop_time", func(a, b *models.Job) int { return cmp.Compare(a.StopTime, b.StopTime) }},
	KeyExitCode:           {"exit_code", func(a, b *models.Job) int { return compareOptional(a.ExitCode, b.ExitCode) }},
	KeyClusters: {"clusters", func(a, b *models.Job) int {
		return strings.Compare(strings.Join(a.Clusters, ","), strings.Join(b.Clusters, ","))
	}},
}

// compareOptional orders nil before any value.
func compareOptional[T cmp.Ordered](a, b *T) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmp.Compare(*a, *b)
	}
}

func (k Key) String() string {
	if k < 0 || int(k) >= len(columns) {
		return fmt.Sprintf("Key(%d)", int(k))
	}
	return columns[k].name
}

func Keys() []Key {
	keys := make([]Key, len(columns))
	for i := range columns {
		keys[i] = Key(i)
	}
	return keys
}

func ParseKey(name string) (Key, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, c := range columns {
		if c.name == name {
			return Key(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// Sort returns a stably sorted copy of jobs. Descending order negates the
// comparator, so jobs with equal keys keep their input order either way.
func Sort(jobs []models.Job, key Key, ascending bool) []models.Job {
	out := slices.Clone(jobs)
	if key < 0 || int(key) >= len(columns) {
		return out
	}
	compare := columns[key].compare
	slices.SortStableFunc(out, func(a, b models.Job) int {
		c := compare(&a, &b)
		if !ascending {
			return -c
		}
		return c
	})
	return out
}
