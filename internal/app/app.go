package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/angariumd/oarwatch/internal/filter"
	"github.com/angariumd/oarwatch/internal/gantt"
	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/refresh"
	"github.com/angariumd/oarwatch/internal/sorting"
	"github.com/angariumd/oarwatch/internal/topology"
)

// Source is the side of the refresh coordinator the application talks to.
type Source interface {
	TryJobs() ([]models.Job, bool)
	TryTopology() (*topology.Index, bool)
	TryResult() (refresh.Result, bool)
	InstantUpdate() bool
	SetWindow(start, end time.Time)
	SetRefreshRate(d time.Duration)
	Refreshing() bool
}

// Context is the consumer-side application state. It is not safe for
// concurrent use: one goroutine drains it and reads from it.
type Context struct {
	source Source

	allJobs  []models.Job
	topo     *topology.Index
	filtered []models.Job
	filters  filter.JobFilters

	loading bool
	last    *refresh.Result
}

func New(source Source) *Context {
	return &Context{
		source:  source,
		topo:    topology.Empty(),
		loading: true,
	}
}

// Drain takes at most one pending batch of each kind and reports whether
// anything changed. It never blocks.
func (c *Context) Drain() bool {
	changed := false

	// topology first, so jobs arriving in the same drain are annotated once
	if idx, ok := c.source.TryTopology(); ok {
		c.topo = idx
		c.allJobs = c.topo.Annotate(c.allJobs)
		changed = true
	}
	if jobs, ok := c.source.TryJobs(); ok {
		c.allJobs = c.topo.Annotate(jobs)
		c.loading = false
		changed = true
	}
	if res, ok := c.source.TryResult(); ok {
		c.last = &res
		// a connectivity failure delivers no jobs but still ends loading
		c.loading = false
		changed = true
	}

	if changed {
		c.refilter()
	}
	return changed
}

// Await drains until a refresh result arrives or ctx is done.
func (c *Context) Await(ctx context.Context, poll time.Duration) (refresh.Result, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		prev := c.last
		c.Drain()
		if c.last != nil && c.last != prev {
			return *c.last, nil
		}
		select {
		case <-ctx.Done():
			return refresh.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Context) refilter() {
	c.filtered = filter.Apply(c.allJobs, c.filters)
	log.Debug().Int("jobs", len(c.allJobs)).Int("filtered", len(c.filtered)).Int("filters", c.filters.Active()).Msg("view recomputed")
}

func (c *Context) SetFilters(f filter.JobFilters) {
	c.filters = f
	c.refilter()
}

func (c *Context) ResetFilters() {
	c.filters.Reset()
	c.refilter()
}

func (c *Context) Filters() filter.JobFilters {
	return c.filters
}

func (c *Context) Jobs() []models.Job {
	return c.allJobs
}

func (c *Context) FilteredJobs() []models.Job {
	return c.filtered
}

func (c *Context) Topology() *topology.Index {
	return c.topo
}

// Sorted returns the filtered jobs ordered by key. It is recomputed on
// every call.
func (c *Context) Sorted(key sorting.Key, ascending bool) []models.Job {
	return sorting.Sort(c.filtered, key, ascending)
}

func (c *Context) Aggregate(mode gantt.Mode) (gantt.Tree, error) {
	return gantt.Aggregate(c.filtered, mode, c.topo)
}

func (c *Context) Loading() bool {
	return c.loading
}

func (c *Context) LastResult() (refresh.Result, bool) {
	if c.last == nil {
		return refresh.Result{}, false
	}
	return *c.last, true
}

func (c *Context) InstantUpdate() bool {
	return c.source.InstantUpdate()
}

func (c *Context) SetWindow(start, end time.Time) {
	c.source.SetWindow(start, end)
}

func (c *Context) SetRefreshRate(d time.Duration) {
	c.source.SetRefreshRate(d)
}

func (c *Context) Refreshing() bool {
	return c.source.Refreshing()
}
