package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/angariumd/oarwatch/internal/app"
	"github.com/angariumd/oarwatch/internal/config"
	"github.com/angariumd/oarwatch/internal/db"
	"github.com/angariumd/oarwatch/internal/events"
	"github.com/angariumd/oarwatch/internal/fetcher"
	"github.com/angariumd/oarwatch/internal/filter"
	"github.com/angariumd/oarwatch/internal/gantt"
	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/sorting"
	"github.com/angariumd/oarwatch/internal/topology"
)

type filterFlags struct {
	owners         []string
	states         []string
	idRange        string
	clusters       []string
	walltime       time.Duration
	scheduledStart string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.owners, "owner", nil, "only jobs of these owners")
	cmd.Flags().StringSliceVar(&f.states, "state", nil, "only jobs in these states")
	cmd.Flags().StringVar(&f.idRange, "id-range", "", "only job ids in lo-hi")
	cmd.Flags().StringSliceVar(&f.clusters, "cluster", nil, "only jobs on cluster or cluster/host")
	cmd.Flags().DurationVar(&f.walltime, "walltime", 0, "only jobs with exactly this walltime")
	cmd.Flags().StringVar(&f.scheduledStart, "scheduled-start", "", "only jobs scheduled at exactly this time ("+fetcher.TimeLayout+")")
}

// build turns the flags into filters. Cluster picks are resolved against
// idx, so it must be called after the first refresh.
func (f *filterFlags) build(idx *topology.Index) (filter.JobFilters, error) {
	var out filter.JobFilters
	if len(f.owners) > 0 {
		out.Owners = filter.Owners(f.owners...)
	}
	if len(f.states) > 0 {
		states := make([]models.JobState, 0, len(f.states))
		for _, name := range f.states {
			s, ok := models.ParseJobState(name)
			if !ok {
				return out, fmt.Errorf("unknown job state %q", name)
			}
			states = append(states, s)
		}
		out.States = filter.States(states...)
	}
	if f.idRange != "" {
		r, err := filter.ParseIDRange(f.idRange)
		if err != nil {
			return out, err
		}
		out.JobIDRange = &r
	}
	if f.walltime > 0 {
		secs := int64(f.walltime / time.Second)
		out.WallTime = &secs
	}
	if f.scheduledStart != "" {
		t, err := time.ParseInLocation(fetcher.TimeLayout, f.scheduledStart, time.Local)
		if err != nil {
			return out, fmt.Errorf("parsing --scheduled-start: %w", err)
		}
		ts := t.Unix()
		out.ScheduledStartTime = &ts
	}
	if len(f.clusters) > 0 {
		out.Clusters = &filter.Selection{Clusters: idx.Select(parsePicks(f.clusters)...)}
	}
	return out, nil
}

// buildAvailable is build minus the cluster picks while idx holds no
// topology yet. complete reports whether the picks were applied.
func (f *filterFlags) buildAvailable(idx *topology.Index) (out filter.JobFilters, complete bool, err error) {
	if len(f.clusters) == 0 || idx.Len() > 0 {
		out, err = f.build(idx)
		return out, true, err
	}
	rest := *f
	rest.clusters = nil
	out, err = rest.build(idx)
	return out, false, err
}

// parsePicks groups "cluster" and "cluster/host" arguments by cluster. A bare
// cluster name keeps every host of that cluster.
func parsePicks(args []string) []topology.Pick {
	var picks []topology.Pick
	index := make(map[string]int)
	whole := make(map[string]bool)
	for _, arg := range args {
		cluster, host, narrowed := strings.Cut(arg, "/")
		i, seen := index[cluster]
		if !seen {
			i = len(picks)
			index[cluster] = i
			picks = append(picks, topology.Pick{Cluster: cluster})
		}
		if !narrowed {
			whole[cluster] = true
			continue
		}
		picks[i].Hosts = append(picks[i].Hosts, host)
	}
	for i := range picks {
		if whole[picks[i].Cluster] {
			picks[i].Hosts = nil
		}
	}
	return picks
}

func snapshotWithFilters(cmd *cobra.Command, ff *filterFlags) (*env, *app.Context, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	state, err := e.snapshot(cmd.Context())
	if err != nil {
		e.close()
		return nil, nil, err
	}
	filters, err := ff.build(state.Topology())
	if err != nil {
		e.close()
		return nil, nil, err
	}
	state.SetFilters(filters)
	return e, state, nil
}

func newJobsCmd() *cobra.Command {
	var (
		ff      filterFlags
		sortKey string
		desc    bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs in the observed window",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := sorting.ParseKey(sortKey)
			if err != nil {
				return err
			}
			e, state, err := snapshotWithFilters(cmd, &ff)
			if err != nil {
				return err
			}
			defer e.close()
			return printJobs(cmd.OutOrStdout(), state.Sorted(key, !desc), e.opts)
		},
	}
	ff.register(cmd)
	cmd.Flags().StringVar(&sortKey, "sort", "id", "sort column")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	return cmd
}

func newGanttCmd() *cobra.Command {
	var (
		ff filterFlags
		by string
	)
	cmd := &cobra.Command{
		Use:   "gantt",
		Short: "Draw a timeline of jobs grouped by owner or by cluster and host",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := gantt.ParseMode(by)
			if err != nil {
				return err
			}
			e, state, err := snapshotWithFilters(cmd, &ff)
			if err != nil {
				return err
			}
			defer e.close()
			tree, err := state.Aggregate(mode)
			if err != nil {
				return err
			}
			return printGantt(cmd.OutOrStdout(), tree, e.opts)
		},
	}
	ff.register(cmd)
	cmd.Flags().StringVar(&by, "by", "owner", "grouping: owner or cluster")
	return cmd
}

func newTopologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Show clusters, hosts and cpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()
			state, err := e.snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return printTopology(cmd.OutOrStdout(), state.Topology())
		},
	}
}

func newWatchCmd() *cobra.Command {
	var (
		ff      filterFlags
		sortKey string
		desc    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep refreshing the job list; SIGUSR1 forces a refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := sorting.ParseKey(sortKey)
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.openJournal(); err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			return watch(cmd, e, &ff, key, !desc)
		},
	}
	ff.register(cmd)
	cmd.Flags().StringVar(&sortKey, "sort", "id", "sort column")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	return cmd
}

func watch(cmd *cobra.Command, e *env, ff *filterFlags, key sorting.Key, ascending bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := e.coordinator()
	state := app.New(coord)
	filters, complete, err := ff.buildAvailable(state.Topology())
	if err != nil {
		return err
	}
	state.SetFilters(filters)
	go coord.Run(ctx)
	state.InstantUpdate()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	manual := manualLimiter()

	reloads := make(chan *config.Config, 1)
	cw, err := config.NewWatcher(e.cfgPath, func(c *config.Config) {
		select {
		case reloads <- c:
		default:
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("config hot reload disabled")
	} else {
		defer cw.Close()
	}

	window := e.cfg.Window
	out := cmd.OutOrStdout()
	redraw := time.NewTicker(time.Second)
	defer redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-usr1:
			if !manual.Allow() {
				log.Info().Msg("manual refresh throttled")
			} else if !state.InstantUpdate() {
				log.Info().Msg("refresh already running")
			}
		case c := <-reloads:
			window = c.Window
			state.SetRefreshRate(c.RefreshRate)
		case <-redraw.C:
		}

		state.SetWindow(window.Around(time.Now()))
		if !state.Drain() {
			continue
		}
		if !complete && state.Topology().Len() > 0 {
			if filters, complete, err = ff.buildAvailable(state.Topology()); err != nil {
				return err
			}
			state.SetFilters(filters)
		}

		fmt.Fprint(out, "\x1b[H\x1b[2J")
		if res, ok := state.LastResult(); ok {
			fmt.Fprintf(out, "last refresh %s (%s, %d jobs)\n\n", res.StartedAt.Format(e.opts.DateLayout()), res.Outcome, res.Jobs)
		}
		if state.Loading() {
			fmt.Fprintln(out, "loading…")
			continue
		}
		if err := printJobs(out, state.Sorted(key, ascending), e.opts); err != nil {
			return err
		}
	}
}

// manualLimiter bounds forced refreshes so a signal loop cannot hammer the
// frontend.
func manualLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(5*time.Second), 2)
}

func newHistoryCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent refresh outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if e.cfg.Journal.Path == "" {
				return fmt.Errorf("journal.path is not set in %s", e.cfgPath)
			}
			database, err := db.Open(e.cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.Init(); err != nil {
				return err
			}

			entries, err := events.Recent(database, n)
			if err != nil {
				return err
			}
			layout := e.opts.DateLayout() + ":05"
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tTRIGGER\tOUTCOME\tJOBS\tRESOURCES\tDURATION\tERROR")
			for _, en := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					en.At.Local().Format(layout), en.Trigger, en.Outcome, en.Jobs, en.Resources,
					en.Duration.Round(time.Millisecond), orDash(en.Error))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if last, ok, err := events.LastSuccess(database); err == nil && ok {
				fmt.Fprintf(cmd.OutOrStdout(), "\nlast success: %s\n", last.At.Local().Format(layout))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of entries")
	return cmd
}
