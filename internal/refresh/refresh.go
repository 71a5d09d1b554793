package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/topology"
)

// WindowMargin widens the requested window on both sides so jobs reported
// late or with a skewed clock still show up.
const WindowMargin = 0.30

const (
	DefaultRefreshRate = 30 * time.Second
	DefaultWindow      = 24 * time.Hour
)

type Fetcher interface {
	// Fetch queries the scheduler for [start, end] and leaves the answer
	// where the Decoder will find it.
	Fetch(ctx context.Context, start, end time.Time) error
}

type Decoder interface {
	DecodeJobs() ([]models.Job, error)
	DecodeResources() ([]models.Cluster, error)
}

// Recorder is told about every finished cycle.
type Recorder interface {
	Record(Result)
}

type Trigger int

const (
	TriggerPeriodic Trigger = iota
	TriggerManual
)

func (t Trigger) String() string {
	if t == TriggerManual {
		return "manual"
	}
	return "periodic"
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeConnectivityError
	OutcomeDecodeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnectivityError:
		return "connectivity_error"
	case OutcomeDecodeError:
		return "decode_error"
	default:
		return "success"
	}
}

type Result struct {
	CycleID   uuid.UUID
	Trigger   Trigger
	Outcome   Outcome
	Start     time.Time // expanded window
	End       time.Time
	Jobs      int
	Resources int
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

func ExpandWindow(start, end time.Time) (time.Time, time.Time) {
	margin := time.Duration(float64(end.Sub(start)) * WindowMargin)
	return start.Add(-margin), end.Add(margin)
}

type Option func(*Coordinator)

func WithWindow(start, end time.Time) Option {
	return func(c *Coordinator) {
		c.initial.start, c.initial.end = start, end
	}
}

func WithRefreshRate(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.initial.rate = d
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithFetchTimeout bounds a single fetch. Zero means no bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.fetchTimeout = d
	}
}

type state struct {
	start, end time.Time
	rate       time.Duration
	inFlight   bool
}

// loop is the state owned by the Run goroutine. Nothing else touches it;
// callers reach it through requests executed on that goroutine.
type loop struct {
	state
	ctx    context.Context
	ticker *time.Ticker
}

type request func(*loop)

// Coordinator polls the scheduler on a fixed rate and on demand, never
// running more than one fetch at a time. Results are delivered through
// mailboxes drained by the consumer with the Try* methods.
type Coordinator struct {
	fetcher      Fetcher
	decoder      Decoder
	recorder     Recorder
	fetchTimeout time.Duration
	initial      state

	requests chan request
	finished chan Result
	stopped  chan struct{}

	jobs     mailbox[[]models.Job]
	topology mailbox[*topology.Index]
	results  mailbox[Result]
}

func New(fetcher Fetcher, decoder Decoder, opts ...Option) *Coordinator {
	now := time.Now()
	c := &Coordinator{
		fetcher: fetcher,
		decoder: decoder,
		initial: state{
			start: now.Add(-DefaultWindow / 2),
			end:   now.Add(DefaultWindow / 2),
			rate:  DefaultRefreshRate,
		},
		requests: make(chan request),
		// one slot is enough: at most one worker is ever in flight
		finished: make(chan Result, 1),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run serves requests and ticks until ctx is done. The public methods of
// the Coordinator block until Run is running.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.stopped)

	l := &loop{state: c.initial, ctx: ctx}
	l.ticker = time.NewTicker(l.rate)
	defer l.ticker.Stop()

	log.Info().Dur("rate", l.rate).Time("start", l.start).Time("end", l.end).Msg("refresh loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("refresh loop stopped")
			return
		case <-l.ticker.C:
			c.trigger(l, TriggerPeriodic)
		case req := <-c.requests:
			req(l)
		case res := <-c.finished:
			l.inFlight = false
			if c.recorder != nil {
				c.recorder.Record(res)
			}
			c.results.Push(res)
		}
	}
}

func (c *Coordinator) do(fn func(*loop)) bool {
	done := make(chan struct{})
	select {
	case c.requests <- func(l *loop) { fn(l); close(done) }:
	case <-c.stopped:
		return false
	}
	<-done
	return true
}

// trigger starts a cycle unless one is already running, in which case the
// request is dropped. Nothing is queued for later.
func (c *Coordinator) trigger(l *loop, t Trigger) bool {
	if l.inFlight {
		log.Debug().Stringer("trigger", t).Msg("refresh already in flight, dropping request")
		return false
	}
	l.inFlight = true
	start, end := ExpandWindow(l.start, l.end)
	go c.cycle(l.ctx, t, start, end)
	return true
}

func (c *Coordinator) cycle(ctx context.Context, t Trigger, start, end time.Time) {
	res := Result{
		CycleID:   uuid.New(),
		Trigger:   t,
		Start:     start,
		End:       end,
		StartedAt: time.Now(),
	}
	logger := log.With().Str("cycle", res.CycleID.String()).Stringer("trigger", t).Logger()
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		c.finished <- res
	}()

	fetchCtx := ctx
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	if err := c.fetcher.Fetch(fetchCtx, start, end); err != nil {
		res.Outcome = OutcomeConnectivityError
		res.Err = err
		logger.Warn().Err(err).Msg("fetch failed, keeping previous snapshot")
		return
	}

	// A shape that fails to decode is delivered empty rather than skipped.
	jobs, jobsErr := c.decoder.DecodeJobs()
	if jobsErr != nil {
		logger.Error().Err(jobsErr).Msg("decoding jobs failed")
		jobs = []models.Job{}
	}
	clusters, resErr := c.decoder.DecodeResources()
	if resErr != nil {
		logger.Error().Err(resErr).Msg("decoding resources failed")
		clusters = nil
	}

	idx := topology.New(clusters)
	c.jobs.Push(jobs)
	c.topology.Push(idx)

	res.Jobs = len(jobs)
	res.Resources = idx.Len()
	if err := errors.Join(jobsErr, resErr); err != nil {
		res.Outcome = OutcomeDecodeError
		res.Err = err
		return
	}
	logger.Info().Int("jobs", res.Jobs).Int("resources", res.Resources).Msg("refresh complete")
}

// InstantUpdate starts a refresh now. It reports false when a refresh is
// already running and the request was dropped, or when Run has stopped.
func (c *Coordinator) InstantUpdate() bool {
	var started bool
	c.do(func(l *loop) {
		started = c.trigger(l, TriggerManual)
	})
	return started
}

// SetWindow changes the window used by the next cycle. A cycle already in
// flight keeps the window it started with.
func (c *Coordinator) SetWindow(start, end time.Time) {
	c.do(func(l *loop) {
		l.start, l.end = start, end
	})
}

func (c *Coordinator) Window() (start, end time.Time) {
	c.do(func(l *loop) {
		start, end = l.start, l.end
	})
	return start, end
}

func (c *Coordinator) SetRefreshRate(d time.Duration) {
	if d <= 0 {
		return
	}
	c.do(func(l *loop) {
		l.rate = d
		l.ticker.Reset(d)
	})
}

func (c *Coordinator) RefreshRate() time.Duration {
	var d time.Duration
	c.do(func(l *loop) {
		d = l.rate
	})
	return d
}

func (c *Coordinator) Refreshing() bool {
	var busy bool
	c.do(func(l *loop) {
		busy = l.inFlight
	})
	return busy
}

func (c *Coordinator) TryJobs() ([]models.Job, bool) {
	return c.jobs.TryPop()
}

func (c *Coordinator) TryTopology() (*topology.Index, bool) {
	return c.topology.TryPop()
}

func (c *Coordinator) TryResult() (Result, bool) {
	return c.results.TryPop()
}
