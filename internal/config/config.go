// Package config loads agentdesk settings from an optional YAML file,
// environment overrides and defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentdesk/internal/ralph"
	"agentdesk/internal/routing"
	"agentdesk/internal/task"
)

// Config is the full agentdesk configuration.
type Config struct {
	Dirs    DirsConfig    `yaml:"dirs"`
	Repo    string        `yaml:"repo"`
	Storage StorageConfig `yaml:"storage"`
	Loop    LoopConfig    `yaml:"loop"`
	Agents  []AgentConfig `yaml:"agents"`
	Monitor MonitorConfig `yaml:"monitor"`
	Review  ReviewConfig  `yaml:"review"`
	Notify  NotifyConfig  `yaml:"notify"`
	Tracing TracingConfig `yaml:"tracing"`
	Scan    ScanConfig    `yaml:"scan"`
}

type DirsConfig struct {
	Home       string `yaml:"home"`
	Workspaces string `yaml:"workspaces"`
	Logs       string `yaml:"logs"`
	Memory     string `yaml:"memory"`
	Tasks      string `yaml:"tasks"`
	Artifacts  string `yaml:"artifacts"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`
	// SQLitePath defaults to <tasks dir>/tasks.db.
	SQLitePath       string `yaml:"sqlite_path"`
	MemoryMaxEntries int    `yaml:"memory_max_entries"`
}

type LoopConfig struct {
	// MaxAttempts is the attempt limit of tasks that do not set their own.
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Worktree       bool          `yaml:"worktree"`
	Tmux           bool          `yaml:"tmux"`
	PTY            bool          `yaml:"pty"`
	// Retry maps a failure category to its retry budget; -1 is unlimited.
	Retry map[string]int `yaml:"retry"`
}

// AgentConfig is one capability table row.
type AgentConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Capabilities []string          `yaml:"capabilities"`
	Domains      []string          `yaml:"domains"`
	Strengths    []string          `yaml:"strengths"`
	Models       map[string]string `yaml:"models"`
}

type MonitorConfig struct {
	WatchInterval  time.Duration `yaml:"watch_interval"`
	ReviewInterval time.Duration `yaml:"review_interval"`
}

type ReviewConfig struct {
	Token     string `yaml:"token"`
	UseGHAuth bool   `yaml:"use_gh_auth"`
}

type NotifyConfig struct {
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// ScanConfig enables proactive task sources.
type ScanConfig struct {
	// Beads imports open issues from the repo's bd tracker.
	Beads bool `yaml:"beads"`
}

// Defaults.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultWatchInterval  = 30 * time.Second
	DefaultReviewInterval = 2 * time.Minute
)

// HomeDir returns $AGENTDESK_HOME, or ~/.agentdesk.
func HomeDir() string {
	if v := os.Getenv("AGENTDESK_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".agentdesk")
	}
	return filepath.Join(home, ".agentdesk")
}

// Path returns the default config file path.
func Path() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// Load reads path (a missing file is not an error), applies environment
// overrides and fills defaults. An empty path means Path().
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setFromEnv(&cfg.Dirs.Home, "AGENTDESK_HOME")
	setFromEnv(&cfg.Dirs.Workspaces, "AGENTDESK_WORKSPACES_DIR")
	setFromEnv(&cfg.Dirs.Logs, "AGENTDESK_LOGS_DIR")
	setFromEnv(&cfg.Dirs.Memory, "AGENTDESK_MEMORY_DIR")
	setFromEnv(&cfg.Dirs.Tasks, "AGENTDESK_TASKS_DIR")
	setFromEnv(&cfg.Dirs.Artifacts, "AGENTDESK_ARTIFACTS_DIR")
	setFromEnv(&cfg.Repo, "AGENTDESK_REPO")
	setFromEnv(&cfg.Review.Token, "GITHUB_TOKEN")
	setFromEnv(&cfg.Review.Token, "GH_TOKEN")
	setFromEnv(&cfg.Notify.WebhookURL, "AGENTDESK_WEBHOOK_URL")
	setFromEnv(&cfg.Notify.WebhookToken, "AGENTDESK_WEBHOOK_TOKEN")
	setFromEnv(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFromEnv(&cfg.Tracing.ServiceName, "OTEL_SERVICE_NAME")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyDefaults fills in zero-value fields.
func applyDefaults(cfg *Config) {
	if cfg.Dirs.Home == "" {
		cfg.Dirs.Home = HomeDir()
	}
	home := cfg.Dirs.Home
	if cfg.Dirs.Workspaces == "" {
		cfg.Dirs.Workspaces = filepath.Join(home, "workspaces")
	}
	if cfg.Dirs.Logs == "" {
		cfg.Dirs.Logs = filepath.Join(home, "logs")
	}
	if cfg.Dirs.Memory == "" {
		cfg.Dirs.Memory = filepath.Join(home, "memory")
	}
	if cfg.Dirs.Tasks == "" {
		cfg.Dirs.Tasks = filepath.Join(home, "tasks")
	}
	if cfg.Dirs.Artifacts == "" {
		cfg.Dirs.Artifacts = filepath.Join(home, "artifacts")
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Dirs.Tasks, "tasks.db")
	}
	if cfg.Loop.MaxAttempts == 0 {
		cfg.Loop.MaxAttempts = task.DefaultMaxAttempts
	}
	if cfg.Loop.AttemptTimeout == 0 {
		cfg.Loop.AttemptTimeout = ralph.DefaultAttemptTimeout
	}
	if cfg.Loop.PollInterval == 0 {
		cfg.Loop.PollInterval = DefaultPollInterval
	}
	if cfg.Monitor.WatchInterval == 0 {
		cfg.Monitor.WatchInterval = DefaultWatchInterval
	}
	if cfg.Monitor.ReviewInterval == 0 {
		cfg.Monitor.ReviewInterval = DefaultReviewInterval
	}
}

// Validate checks values that defaults cannot repair.
func Validate(cfg *Config) error {
	var errs []error
	switch cfg.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend))
	}
	if cfg.Loop.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("loop.max_attempts: must be positive, got %d", cfg.Loop.MaxAttempts))
	}
	if cfg.Loop.AttemptTimeout < 0 || cfg.Loop.PollInterval < 0 {
		errs = append(errs, errors.New("loop: durations must not be negative"))
	}
	if _, err := cfg.RetryPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Profiles(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RetryPolicy returns the default policy with configured budgets applied.
func (cfg *Config) RetryPolicy() (ralph.RetryPolicy, error) {
	p := ralph.DefaultRetryPolicy()
	for name, budget := range cfg.Loop.Retry {
		c, err := task.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("loop.retry: %w", err)
		}
		if budget < ralph.Unlimited {
			return nil, fmt.Errorf("loop.retry.%s: budget %d below -1", name, budget)
		}
		p[c] = budget
	}
	return p, nil
}

// Profiles returns the configured capability table, or the built-in one
// when none is configured.
func (cfg *Config) Profiles() ([]routing.Profile, error) {
	if len(cfg.Agents) == 0 {
		return routing.DefaultProfiles(), nil
	}
	out := make([]routing.Profile, 0, len(cfg.Agents))
	seen := make(map[string]bool)
	for i, a := range cfg.Agents {
		if a.ID == "" || a.Command == "" {
			return nil, fmt.Errorf("agents[%d]: id and command are required", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		p := routing.Profile{
			ID:      a.ID,
			Name:    a.Name,
			Command: a.Command,
			Args:    a.Args,
			Domains: a.Domains,
			Models:  a.Models,
		}
		if p.Name == "" {
			p.Name = a.ID
		}
		for _, c := range a.Capabilities {
			typ, err := task.ParseType(c)
			if err != nil {
				return nil, fmt.Errorf("agents[%d].capabilities: %w", i, err)
			}
			p.Capabilities = append(p.Capabilities, typ)
		}
		for _, s := range a.Strengths {
			switch st := routing.Strength(strings.ToLower(s)); st {
			case routing.StrengthComplex, routing.StrengthFast:
				p.Strengths = append(p.Strengths, st)
			default:
				return nil, fmt.Errorf("agents[%d].strengths: unknown strength %q", i, s)
			}
		}
		out = append(out, p)
	}
	return out, nil
}
