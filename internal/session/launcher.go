package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/prompt"
	"agentdesk/internal/review"
	"agentdesk/internal/routing"
	"agentdesk/internal/rules"
	"agentdesk/internal/tmux"
	"agentdesk/internal/worktree"
)

// Multiplexer runs sessions inside named terminal sessions.
// *tmux.Server implements it; tests inject a stub.
type Multiplexer interface {
	NewSession(name, dir, command string) error
	HasSession(name string) bool
	KillSession(name string) error
	PipeToFile(name, path string) error
	SendKeys(name, text string) error
	Capture(name string, lines int) (string, error)
}

// Workspaces creates isolated checkouts. *worktree.Manager implements it.
type Workspaces interface {
	DefaultBranch() string
	Create(path, branch, base string) error
}

// Reviews finds the open review for a branch. *review.Client implements it.
type Reviews interface {
	FindOpen(ctx context.Context, branch string) (*review.PR, error)
}

// CommandFactory builds the worker command. The default is exec.Command;
// tests inject a factory that re-executes the test binary.
type CommandFactory func(name string, args ...string) *exec.Cmd

const (
	defaultSupervisePoll = time.Second
	defaultKillGrace     = 5 * time.Second
)

// Config holds the launcher's directories and process settings.
type Config struct {
	LogsDir       string
	WorkspacesDir string
	// Dir is the working directory of sessions launched without a worktree.
	Dir string
	// PTY runs process-mode workers on a pseudo-terminal instead of plain pipes.
	PTY bool
	// SupervisePoll is how often tmux sessions are checked for exit.
	SupervisePoll time.Duration
	// KillGrace is the delay between SIGTERM and SIGKILL on Terminate.
	KillGrace time.Duration
}

// LaunchOptions describe one session.
type LaunchOptions struct {
	Agent    routing.Profile
	TaskID   string
	Prompt   string
	Model    string
	Worktree bool
	Tmux     bool
}

// Launcher starts, watches and stops sessions.
type Launcher struct {
	cfg        Config
	registry   *Registry
	mux        Multiplexer
	workspaces Workspaces
	reviews    Reviews
	command    CommandFactory
	logger     *slog.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithMultiplexer enables tmux-mode sessions.
func WithMultiplexer(m Multiplexer) Option { return func(l *Launcher) { l.mux = m } }

// WithWorkspaces enables worktree isolation.
func WithWorkspaces(w Workspaces) Option { return func(l *Launcher) { l.workspaces = w } }

// WithReviews enables review lookup when a session completes.
func WithReviews(r Reviews) Option { return func(l *Launcher) { l.reviews = r } }

// WithCommandFactory injects a custom command factory (used in tests).
func WithCommandFactory(f CommandFactory) Option { return func(l *Launcher) { l.command = f } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Launcher) { l.logger = logger } }

// NewLauncher returns a launcher for cfg.
func NewLauncher(cfg Config, opts ...Option) *Launcher {
	if cfg.SupervisePoll <= 0 {
		cfg.SupervisePoll = defaultSupervisePoll
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	l := &Launcher{cfg: cfg, command: exec.Command}
	for _, o := range opts {
		o(l)
	}
	if l.registry == nil {
		l.registry = NewRegistry()
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l
}

// Registry returns the launcher's session registry.
func (l *Launcher) Registry() *Registry { return l.registry }

// Launch allocates a session, prepares its workspace and log, and spawns
// the worker. The returned session is in StatusStarting; a supervisor
// goroutine moves it to running and, on exit, to completed or failed.
// Spawn errors are returned here and leave the session failed.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if opts.TaskID == "" {
		return Session{}, errors.New("launch: task id is required")
	}
	if opts.Agent.Command == "" {
		return Session{}, fmt.Errorf("launch: agent %q has no command", opts.Agent.ID)
	}
	if opts.Tmux && l.mux == nil {
		return Session{}, errors.New("launch: tmux is not available")
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s := Session{
		ID:        uuid.NewString(),
		TaskID:    opts.TaskID,
		Agent:     opts.Agent.ID,
		Status:    StatusStarting,
		StartedAt: time.Now(),
	}
	if err := l.registry.Add(s); err != nil {
		return Session{}, err
	}
	spawned := false
	defer func() {
		if !spawned {
			l.registry.finish(s.ID, StatusFailed, nil)
		}
	}()

	dir := l.cfg.Dir
	if opts.Worktree {
		path, branch, err := l.prepareWorkspace(opts)
		if err != nil {
			return Session{}, fmt.Errorf("prepare workspace: %w", err)
		}
		dir = path
		s.WorkspacePath, s.Branch = path, branch
	}

	if err := os.MkdirAll(l.cfg.LogsDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("create logs dir: %w", err)
	}
	s.LogPath = filepath.Join(l.cfg.LogsDir, s.ID+".log")

	argv := append([]string{opts.Agent.Command}, opts.Agent.CommandArgs(opts.Model)...)
	argv = append(argv, prompt.WithTrailer(opts.Prompt, opts.TaskID))

	var supervise func()
	mode := "process"
	if opts.Tmux {
		mode = "tmux"
		name, fn, err := l.startTmux(s, dir, argv)
		if err != nil {
			return Session{}, err
		}
		s.TmuxSession, supervise = name, fn
	} else {
		pid, fn, err := l.startProcess(s, dir, argv)
		if err != nil {
			return Session{}, err
		}
		s.PID, supervise = pid, fn
	}
	spawned = true

	l.registry.update(s.ID, func(cur *Session) {
		cur.WorkspacePath = s.WorkspacePath
		cur.Branch = s.Branch
		cur.LogPath = s.LogPath
		cur.TmuxSession = s.TmuxSession
		cur.PID = s.PID
	})
	l.logger.Info("session started",
		"session", s.ID, "task", s.TaskID, "agent", s.Agent, "mode", mode, "branch", s.Branch)
	go supervise()
	return s, nil
}

// prepareWorkspace creates (or reuses, on a later attempt) the task's
// worktree on branch <agent>/<taskId>.
func (l *Launcher) prepareWorkspace(opts LaunchOptions) (path, branch string, err error) {
	if l.workspaces == nil {
		return "", "", errors.New("worktrees are not configured")
	}
	branch = worktree.BranchName(opts.Agent.ID, opts.TaskID)
	path = filepath.Join(l.cfg.WorkspacesDir, strings.ReplaceAll(branch, "/", "-"))
	if _, err := os.Stat(path); err != nil {
		if err := os.MkdirAll(l.cfg.WorkspacesDir, 0o755); err != nil {
			return "", "", err
		}
		if err := l.workspaces.Create(path, branch, l.workspaces.DefaultBranch()); err != nil {
			return "", "", err
		}
	}
	if err := rules.InjectWorktree(path); err != nil {
		l.logger.Warn("inject worker rules", "path", path, "error", err)
	}
	return path, branch, nil
}

// startProcess spawns argv as a detached child in its own process group
// with output going to the session log.
func (l *Launcher) startProcess(s Session, dir string, argv []string) (int, func(), error) {
	logFile, err := os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, nil, fmt.Errorf("open session log: %w", err)
	}
	cmd := l.command(argv[0], argv[1:]...)
	cmd.Dir = dir

	var cleanup func()
	if l.cfg.PTY {
		f, err := startPTY(cmd)
		if err != nil {
			logFile.Close()
			return 0, nil, fmt.Errorf("start %s on pty: %w", argv[0], err)
		}
		copied := make(chan struct{})
		go func() {
			// Reads fail with EIO once the child side closes.
			_, _ = io.Copy(logFile, f)
			close(copied)
		}()
		cleanup = func() {
			select {
			case <-copied:
			case <-time.After(2 * time.Second):
			}
			f.Close()
			logFile.Close()
		}
	} else {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			logFile.Close()
			return 0, nil, fmt.Errorf("start %s: %w", argv[0], err)
		}
		cleanup = func() { logFile.Close() }
	}

	supervise := func() {
		l.registry.markRunning(s.ID)
		err := cmd.Wait()
		cleanup()
		code := exitCode(err)
		l.complete(s.ID, code)
	}
	return cmd.Process.Pid, supervise, nil
}

// startTmux runs argv in a detached tmux session named after the task. The
// shell records the worker's exit status in a file next to the log.
func (l *Launcher) startTmux(s Session, dir string, argv []string) (string, func(), error) {
	name := tmux.SessionName(s.TaskID)
	if l.mux.HasSession(name) {
		// Left over from an earlier controller run.
		if err := l.mux.KillSession(name); err != nil {
			return "", nil, fmt.Errorf("kill stale session %s: %w", name, err)
		}
	}
	if err := os.WriteFile(s.LogPath, nil, 0o644); err != nil {
		return "", nil, fmt.Errorf("create session log: %w", err)
	}
	exitPath := exitFile(s.LogPath)
	_ = os.Remove(exitPath)

	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = tmux.Quote(a)
	}
	command := strings.Join(quoted, " ") + "; echo $? > " + tmux.Quote(exitPath)
	if err := l.mux.NewSession(name, dir, command); err != nil {
		return "", nil, err
	}
	if err := l.mux.PipeToFile(name, s.LogPath); err != nil {
		l.logger.Warn("pipe tmux pane to log", "session", s.ID, "error", err)
	}

	supervise := func() {
		l.registry.markRunning(s.ID)
		ticker := time.NewTicker(l.cfg.SupervisePoll)
		defer ticker.Stop()
		for range ticker.C {
			cur, ok := l.registry.Get(s.ID)
			if !ok || cur.Status.IsTerminal() {
				return
			}
			if l.mux.HasSession(name) {
				continue
			}
			l.complete(s.ID, readExitCode(exitPath))
			return
		}
	}
	return name, supervise, nil
}

// complete records the exit of session id unless it already ended.
func (l *Launcher) complete(id string, code int) {
	status := StatusCompleted
	if code != 0 {
		status = StatusFailed
	}
	if l.registry.finish(id, status, &code) {
		l.logger.Info("session exited", "session", id, "status", status.String(), "exit_code", code)
	}
}

// SendCommand types text into a tmux session.
func (l *Launcher) SendCommand(id, text string) error {
	s, ok := l.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if !s.Interactive() || l.mux == nil {
		return ErrNotInteractive
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("session %s has ended", id)
	}
	return l.mux.SendKeys(s.TmuxSession, text)
}

// Terminate forces session id to failed and kills its tmux session and
// process group. Terminating an ended session is a no-op.
func (l *Launcher) Terminate(id string) error {
	s, ok := l.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if !l.registry.finish(id, StatusFailed, nil) {
		return nil
	}
	l.logger.Info("session terminated", "session", id, "task", s.TaskID)

	var errs []error
	if s.TmuxSession != "" && l.mux != nil {
		errs = append(errs, l.mux.KillSession(s.TmuxSession))
	}
	if s.PID > 0 {
		errs = append(errs, killGroup(s.PID, l.cfg.KillGrace))
	}
	return errors.Join(errs...)
}

// Alive reports whether the session's process or tmux session still exists.
func (l *Launcher) Alive(s Session) bool {
	if s.Status.IsTerminal() {
		return false
	}
	if s.TmuxSession != "" {
		return l.mux != nil && l.mux.HasSession(s.TmuxSession)
	}
	if s.PID > 0 {
		return processAlive(s.PID)
	}
	// Still starting.
	return true
}

func exitFile(logPath string) string {
	return strings.TrimSuffix(logPath, ".log") + ".exit"
}

// readExitCode returns the status the tmux shell wrote, or -1 if it never did.
func readExitCode(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return -1
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
