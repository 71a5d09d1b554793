package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/angariumd/oarwatch/internal/app"
	"github.com/angariumd/oarwatch/internal/config"
	"github.com/angariumd/oarwatch/internal/db"
	"github.com/angariumd/oarwatch/internal/decoder"
	"github.com/angariumd/oarwatch/internal/events"
	"github.com/angariumd/oarwatch/internal/fetcher"
	"github.com/angariumd/oarwatch/internal/logging"
	"github.com/angariumd/oarwatch/internal/refresh"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "oarwatch",
		Short:         "Watch jobs and resources of an OAR cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.oarwatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newJobsCmd(),
		newGanttCmd(),
		newTopologyCmd(),
		newWatchCmd(),
		newHistoryCmd(),
		newInitCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "oarwatch:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// env is everything a command needs once the config is loaded.
type env struct {
	cfgPath  string
	cfg      *config.Config
	opts     config.Options
	database *db.DB
	journal  *events.Journal
}

func loadEnv() (*env, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no config at %s, run 'oarwatch init' first", path)
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}

	opts, err := config.LoadOptions(cfg.OptionsPath)
	if err != nil {
		// fall back to the defaults
		log.Warn().Err(err).Msg("using default options")
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.Setup(level, os.Stderr, opts.Color()); err != nil {
		return nil, err
	}

	return &env{cfgPath: path, cfg: cfg, opts: opts}, nil
}

func (e *env) openJournal() error {
	if e.cfg.Journal.Path == "" {
		return nil
	}
	database, err := db.Open(e.cfg.Journal.Path)
	if err != nil {
		return err
	}
	if err := database.Init(); err != nil {
		database.Close()
		return err
	}
	e.database = database
	e.journal = events.New(database, e.cfg.Journal.Keep)
	return nil
}

func (e *env) close() {
	if e.journal != nil {
		e.journal.Close()
	}
	if e.database != nil {
		e.database.Close()
	}
}

func (e *env) fetcher() refresh.Fetcher {
	if e.cfg.Fetch.Mode == config.FetchCommand {
		return &fetcher.CommandFetcher{
			Command:   e.cfg.Fetch.Command,
			CachePath: e.cfg.Fetch.CachePath,
		}
	}
	r := e.cfg.Remote
	return &fetcher.SSHFetcher{
		Addr:       r.Addr,
		User:       r.User,
		KeyPath:    r.KeyPath,
		KnownHosts: r.KnownHosts,
		Command:    r.Command,
		RemotePath: r.RemotePath,
		CachePath:  e.cfg.Fetch.CachePath,
		Timeout:    30 * time.Second,
	}
}

func (e *env) coordinator() *refresh.Coordinator {
	start, end := e.cfg.Window.Around(time.Now())
	opts := []refresh.Option{
		refresh.WithWindow(start, end),
		refresh.WithRefreshRate(e.cfg.RefreshRate),
		refresh.WithFetchTimeout(e.cfg.Fetch.Timeout),
	}
	if e.journal != nil {
		opts = append(opts, refresh.WithRecorder(e.journal))
	}
	return refresh.New(e.fetcher(), decoder.FileDecoder{Path: e.cfg.Fetch.CachePath}, opts...)
}

// snapshot runs a single refresh and returns the populated application
// state. A failed fetch is an error; a decode failure is only logged.
func (e *env) snapshot(ctx context.Context) (*app.Context, error) {
	if err := e.openJournal(); err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	coord := e.coordinator()
	go coord.Run(ctx)

	state := app.New(coord)
	state.InstantUpdate()

	waitCtx, waitCancel := context.WithTimeout(ctx, e.cfg.Fetch.Timeout+10*time.Second)
	defer waitCancel()
	res, err := state.Await(waitCtx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("waiting for refresh: %w", err)
	}

	switch res.Outcome {
	case refresh.OutcomeConnectivityError:
		return nil, fmt.Errorf("fetching from scheduler: %w", res.Err)
	case refresh.OutcomeDecodeError:
		log.Warn().Err(res.Err).Msg("partial snapshot")
	}
	return state, nil
}

func newInitCmd() *cobra.Command {
	var addr, user, key string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath()
			if err != nil {
				return err
			}
			cfg := config.Default()
			cfg.Remote.Addr, cfg.Remote.User, cfg.Remote.KeyPath = addr, user, key
			if err := config.SaveConfig(path, cfg); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "scheduler frontend host[:port]")
	cmd.Flags().StringVar(&user, "user", os.Getenv("USER"), "ssh user")
	cmd.Flags().StringVar(&key, "key", "~/.ssh/id_ed25519", "ssh private key")
	return cmd
}
