package filter

import (
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/topology"
)

type IDRange struct {
	Lo, Hi uint32
}

func (r IDRange) Contains(id uint32) bool {
	return r.Lo <= id && id <= r.Hi
}

// ParseIDRange accepts "lo-hi" or a single id.
func ParseIDRange(s string) (IDRange, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(s), "-")
	l, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 32)
	if err != nil {
		return IDRange{}, fmt.Errorf("parsing id range %q: %w", s, err)
	}
	if !found {
		return IDRange{Lo: uint32(l), Hi: uint32(l)}, nil
	}
	h, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 32)
	if err != nil {
		return IDRange{}, fmt.Errorf("parsing id range %q: %w", s, err)
	}
	if h < l {
		return IDRange{}, fmt.Errorf("parsing id range %q: upper bound below lower bound", s)
	}
	return IDRange{Lo: uint32(l), Hi: uint32(h)}, nil
}

// Selection is a pruned copy of the topology, see topology.Index.Select.
type Selection struct {
	Clusters []models.Cluster
}

// JobFilters holds the active predicates. A nil field is unconstrained.
type JobFilters struct {
	JobIDRange *IDRange
	Owners     mapset.Set[string]
	States     mapset.Set[models.JobState]

	// ScheduledStartTime and WallTime match exactly.
	// TODO: turn these into bounds once the jobs command grows range flags.
	ScheduledStartTime *int64
	WallTime           *int64

	Clusters *Selection
}

func (f *JobFilters) Active() int {
	n := 0
	if f.JobIDRange != nil {
		n++
	}
	if f.Owners != nil {
		n++
	}
	if f.States != nil {
		n++
	}
	if f.ScheduledStartTime != nil {
		n++
	}
	if f.WallTime != nil {
		n++
	}
	if f.Clusters != nil {
		n++
	}
	return n
}

func (f *JobFilters) IsZero() bool {
	return f.Active() == 0
}

func (f *JobFilters) Reset() {
	*f = JobFilters{}
}

func Owners(owners ...string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(owners...)
}

func States(states ...models.JobState) mapset.Set[models.JobState] {
	return mapset.NewThreadUnsafeSet(states...)
}

type predicate func(*models.Job) bool

func (f *JobFilters) predicates() []predicate {
	var preds []predicate
	if r := f.JobIDRange; r != nil {
		preds = append(preds, func(j *models.Job) bool { return r.Contains(j.ID) })
	}
	if owners := f.Owners; owners != nil {
		preds = append(preds, func(j *models.Job) bool { return owners.ContainsOne(j.Owner) })
	}
	if states := f.States; states != nil {
		preds = append(preds, func(j *models.Job) bool { return states.ContainsOne(j.State) })
	}
	if t := f.ScheduledStartTime; t != nil {
		want := *t
		preds = append(preds, func(j *models.Job) bool { return j.ScheduledStart == want })
	}
	if t := f.WallTime; t != nil {
		want := *t
		preds = append(preds, func(j *models.Job) bool { return j.WallTime == want })
	}
	if sel := f.Clusters; sel != nil {
		ids := topology.Flatten(sel.Clusters)
		preds = append(preds, func(j *models.Job) bool { return ids.ContainsAny(j.AssignedResources...) })
	}
	return preds
}

// Apply returns the jobs satisfying every active predicate, in input order.
func Apply(jobs []models.Job, f JobFilters) []models.Job {
	preds := f.predicates()
	out := make([]models.Job, 0, len(jobs))
	for i := range jobs {
		if matches(&jobs[i], preds) {
			out = append(out, jobs[i])
		}
	}
	return out
}

func matches(j *models.Job, preds []predicate) bool {
	for _, p := range preds {
		if !p(j) {
			return false
		}
	}
	return true
}
