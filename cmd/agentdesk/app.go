package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"agentdesk/internal/artifact"
	"agentdesk/internal/beads"
	"agentdesk/internal/config"
	"agentdesk/internal/memory"
	"agentdesk/internal/notify"
	"agentdesk/internal/orchestrator"
	"agentdesk/internal/ralph"
	"agentdesk/internal/review"
	"agentdesk/internal/session"
	"agentdesk/internal/task"
	"agentdesk/internal/tmux"
	"agentdesk/internal/trace"
	"agentdesk/internal/worktree"
)

// app holds what every command needs. Heavier parts are built on demand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	styles styles

	tasks     task.Store
	memory    *memory.FileStore
	artifacts *artifact.Store
	closer    func() error
}

func newApp(cmd *cli.Command) (*app, error) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:       cfg,
		logger:    logger,
		out:       cmd.Root().Writer,
		styles:    defaultStyles(),
		memory:    memory.NewFileStore(cfg.Dirs.Memory, cfg.Storage.MemoryMaxEntries),
		artifacts: artifact.NewStore(cfg.Dirs.Artifacts),
		closer:    func() error { return nil },
	}
	if a.out == nil {
		a.out = os.Stdout
	}

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create tasks dir: %w", err)
		}
		store, err := task.OpenSQLite(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		a.tasks = store
		a.closer = store.Close
	default:
		a.tasks = task.NewFileStore(cfg.Dirs.Tasks)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.closer()
}

func (a *app) writef(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) notifier() *notify.Dispatcher {
	notifiers := notify.Multi{notify.LogNotifier{Logger: a.logger}}
	if a.cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(a.cfg.Notify.WebhookURL, a.cfg.Notify.WebhookToken, nil))
	}
	return notify.NewDispatcher(notifiers, a.logger)
}

func (a *app) reviews() *review.Client {
	return review.New(review.Options{
		Dir:       a.cfg.Repo,
		Token:     a.cfg.Review.Token,
		UseGHAuth: a.cfg.Review.UseGHAuth,
	})
}

// repoDir is the configured repository, or the working directory.
func (a *app) repoDir() (string, error) {
	if a.cfg.Repo != "" {
		return a.cfg.Repo, nil
	}
	return os.Getwd()
}

// scanners returns the proactive task sources enabled in config.
func (a *app) scanners(repo string) []orchestrator.Scanner {
	var out []orchestrator.Scanner
	if a.cfg.Scan.Beads {
		out = append(out, beads.NewScanner(repo, beads.WithLogger(a.logger)))
	}
	return out
}

// runtime is the full stack needed to execute goals.
type runtime struct {
	orch     *orchestrator.Orchestrator
	launcher *session.Launcher
	reviews  *review.Client
	tracing  *trace.Provider
}

func (r *runtime) shutdown(ctx context.Context) error {
	return r.tracing.Shutdown(ctx)
}

// newRuntime wires launcher, loop and orchestrator. observer receives loop
// progress in addition to tracing.
func (a *app) newRuntime(ctx context.Context, loop config.LoopConfig, observer ralph.Observer) (*runtime, error) {
	cfg := a.cfg
	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}

	reviews := a.reviews()
	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithReviews(reviews),
	}
	if loop.Tmux {
		if !tmux.Available() {
			return nil, errors.New("tmux not found on PATH; set loop.tmux to false to run workers directly")
		}
		srv, err := tmux.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithMultiplexer(srv))
	}
	repo, err := a.repoDir()
	if err != nil {
		return nil, err
	}
	if loop.Worktree {
		wt, err := worktree.NewManagerFromWorkDir(repo)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithWorkspaces(wt))
	}
	launcher := session.NewLauncher(session.Config{
		LogsDir:       cfg.Dirs.Logs,
		WorkspacesDir: cfg.Dirs.Workspaces,
		Dir:           repo,
		PTY:           loop.PTY,
	}, opts...)

	tp, err := trace.New(ctx, trace.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
		tp = nil
	}

	observers := []ralph.Observer{
		orchestrator.NewAttemptRecorder(a.tasks, a.logger),
		observer,
		artifact.NewObserver(a.artifacts, a.logger),
	}
	if tp.Enabled() {
		observers = append(observers, ralph.NewTracingObserver(tp.Tracer(ralph.TracerName)))
	}
	rl := ralph.NewLoop(launcher, a.memory, ralph.Config{
		AttemptTimeout: loop.AttemptTimeout,
		PollInterval:   loop.PollInterval,
		Policy:         policy,
		Worktree:       loop.Worktree,
		Tmux:           loop.Tmux,
	}, ralph.WithObserver(ralph.NewMultiObserver(observers...)), ralph.WithLogger(a.logger))

	orch := orchestrator.New(a.tasks, rl,
		orchestrator.WithSessions(launcher),
		orchestrator.WithMemory(a.memory),
		orchestrator.WithHistory(a.memory),
		orchestrator.WithProfiles(profiles),
		orchestrator.WithNotifier(a.notifier()),
		orchestrator.WithScanners(a.scanners(repo)...),
		orchestrator.WithLogger(a.logger),
	)
	return &runtime{orch: orch, launcher: launcher, reviews: reviews, tracing: tp}, nil
}

var errUsage = errors.New("usage")

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}
