package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	FetchSSH     = "ssh"
	FetchCommand = "command"
)

const (
	DefaultRefreshRate  = 30 * time.Second
	DefaultFetchTimeout = 2 * time.Minute
	DefaultWindowBefore = 12 * time.Hour
	DefaultWindowAfter  = 12 * time.Hour
	DefaultJournalKeep  = 500
	DefaultRemoteCmd    = `oarstat --gantt "{start},{end}" -J > {output} && oarnodes -J >> {output}`
)

type RemoteConfig struct {
	Addr       string `yaml:"addr"`
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path"`
	KnownHosts string `yaml:"known_hosts"`
	Command    string `yaml:"command"`
	RemotePath string `yaml:"remote_path"`
}

type FetchConfig struct {
	Mode      string        `yaml:"mode"`    // ssh or command
	Command   string        `yaml:"command"` // local command for mode "command"
	CachePath string        `yaml:"cache_path"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WindowConfig places the observed window around now.
type WindowConfig struct {
	Before time.Duration `yaml:"before"`
	After  time.Duration `yaml:"after"`
}

func (w WindowConfig) Around(now time.Time) (start, end time.Time) {
	return now.Add(-w.Before), now.Add(w.After)
}

type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
	Keep int    `yaml:"keep"`
}

type Config struct {
	Remote      RemoteConfig  `yaml:"remote"`
	Fetch       FetchConfig   `yaml:"fetch"`
	RefreshRate time.Duration `yaml:"refresh_rate"`
	Window      WindowConfig  `yaml:"window"`
	Journal     JournalConfig `yaml:"journal"`
	OptionsPath string        `yaml:"options_path"`
	LogLevel    string        `yaml:"log_level"`
}

// Default returns the configuration used for any field a file leaves out.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Command:    DefaultRemoteCmd,
			RemotePath: "/tmp/oarwatch.json",
		},
		Fetch: FetchConfig{
			Mode:      FetchSSH,
			CachePath: filepath.Join(os.TempDir(), "oarwatch", "cache.json"),
			Timeout:   DefaultFetchTimeout,
		},
		RefreshRate: DefaultRefreshRate,
		Window: WindowConfig{
			Before: DefaultWindowBefore,
			After:  DefaultWindowAfter,
		},
		Journal:  JournalConfig{Keep: DefaultJournalKeep},
		LogLevel: "info",
	}
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.Remote.KeyPath = expandHome(cfg.Remote.KeyPath)
	cfg.Remote.KnownHosts = expandHome(cfg.Remote.KnownHosts)
	cfg.Fetch.CachePath = expandHome(cfg.Fetch.CachePath)
	cfg.Journal.Path = expandHome(cfg.Journal.Path)
	cfg.OptionsPath = expandHome(cfg.OptionsPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Fetch.Mode {
	case FetchSSH:
		if c.Remote.Addr == "" {
			errs = append(errs, errors.New("remote.addr is required for ssh fetching"))
		}
		if c.Remote.KeyPath == "" {
			errs = append(errs, errors.New("remote.key_path is required for ssh fetching"))
		}
		if c.Remote.Command == "" || c.Remote.RemotePath == "" {
			errs = append(errs, errors.New("remote.command and remote.remote_path are required"))
		}
	case FetchCommand:
		if c.Fetch.Command == "" {
			errs = append(errs, errors.New("fetch.command is required for command fetching"))
		}
	default:
		errs = append(errs, fmt.Errorf("fetch.mode must be %q or %q, got %q", FetchSSH, FetchCommand, c.Fetch.Mode))
	}
	if c.Fetch.CachePath == "" {
		errs = append(errs, errors.New("fetch.cache_path is required"))
	}
	if c.RefreshRate <= 0 {
		errs = append(errs, errors.New("refresh_rate must be positive"))
	}
	if c.Window.Before < 0 || c.Window.After < 0 || c.Window.Before+c.Window.After == 0 {
		errs = append(errs, errors.New("window must span a positive duration"))
	}
	if c.Journal.Keep < 1 {
		errs = append(errs, errors.New("journal.keep must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
