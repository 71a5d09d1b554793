package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// CommandFetcher runs a local shell command that writes the scheduler dump
// to {output}. The cache file is only replaced when the command succeeds.
type CommandFetcher struct {
	Command   string
	CachePath string
	Location  *time.Location
}

func (f *CommandFetcher) Fetch(ctx context.Context, start, end time.Time) error {
	if f.Command == "" {
		return errors.New("no fetch command configured")
	}
	unlock, err := lockCache(f.CachePath)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := tempPath(f.CachePath)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	out := &limitWriter{limit: MaxOutput}
	cmd := exec.CommandContext(ctx, "sh", "-c", Expand(f.Command, start, end, tmp, f.Location))
	cmd.Stdout = out
	cmd.Stderr = out

	// own process group, so cancellation takes down the whole pipeline
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	log.Debug().Str("cmd", cmd.Args[2]).Msg("running fetch command")
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return commandError("running fetch command", ctxErr, out)
		}
		return commandError("running fetch command", err, out)
	}

	if fi, err := os.Stat(tmp); err != nil || fi.Size() == 0 {
		return errors.New("fetch command wrote nothing to {output}")
	}
	if err := os.Rename(tmp, f.CachePath); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}
