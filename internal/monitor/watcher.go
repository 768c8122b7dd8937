package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agentdesk/internal/session"
)

// DefaultWatchInterval is how often AgentWatcher polls.
const DefaultWatchInterval = 30 * time.Second

// DefaultDeadAfter is how many consecutive failed liveness checks mark a
// session dead.
const DefaultDeadAfter = 2

// Sessions lists sessions. *session.Registry implements it.
type Sessions interface {
	Active() []session.Session
	Get(id string) (session.Session, bool)
}

// Liveness probes a session. *session.Launcher implements it.
type Liveness interface {
	Alive(s session.Session) bool
}

// Health is one change in a session's liveness.
type Health struct {
	Session session.Session
	Alive   bool
}

// AgentWatcher polls active sessions and reports liveness changes.
// Sessions start out presumed alive, so the first report for a session is
// normally that it died.
type AgentWatcher struct {
	poller
	sessions  Sessions
	liveness  Liveness
	onHealth  func(Health)
	deadAfter int
	logger    *slog.Logger

	mu     sync.Mutex
	misses map[string]int
	dead   map[string]bool
}

// WatcherOption configures an AgentWatcher.
type WatcherOption func(*AgentWatcher)

// WithWatchInterval sets the poll interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *AgentWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDeadAfter sets how many consecutive misses mark a session dead.
func WithDeadAfter(n int) WatcherOption {
	return func(w *AgentWatcher) {
		if n > 0 {
			w.deadAfter = n
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *AgentWatcher) { w.logger = logger }
}

// NewAgentWatcher returns a watcher calling onHealth on each change.
func NewAgentWatcher(sessions Sessions, liveness Liveness, onHealth func(Health), opts ...WatcherOption) *AgentWatcher {
	w := &AgentWatcher{
		poller:    poller{interval: DefaultWatchInterval},
		sessions:  sessions,
		liveness:  liveness,
		onHealth:  onHealth,
		deadAfter: DefaultDeadAfter,
		misses:    make(map[string]int),
		dead:      make(map[string]bool),
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	return w
}

// Start polls in the background until Stop or ctx is cancelled.
func (w *AgentWatcher) Start(ctx context.Context) { w.start(ctx, w.Check) }

// Stop halts polling and waits for an in-flight check.
func (w *AgentWatcher) Stop() { w.stop() }

// Check runs one poll.
func (w *AgentWatcher) Check(ctx context.Context) {
	active := w.sessions.Active()
	seen := make(map[string]bool, len(active))
	var changes []Health

	w.mu.Lock()
	for _, s := range active {
		if ctx.Err() != nil {
			break
		}
		seen[s.ID] = true
		if w.liveness.Alive(s) {
			w.misses[s.ID] = 0
			if w.dead[s.ID] {
				delete(w.dead, s.ID)
				changes = append(changes, Health{Session: s, Alive: true})
			}
			continue
		}
		w.misses[s.ID]++
		if w.dead[s.ID] || w.misses[s.ID] < w.deadAfter {
			continue
		}
		// The supervisor may have finished it since Active was read.
		if cur, ok := w.sessions.Get(s.ID); !ok || cur.Status.IsTerminal() {
			continue
		}
		w.dead[s.ID] = true
		changes = append(changes, Health{Session: s, Alive: false})
	}
	for id := range w.misses {
		if !seen[id] {
			delete(w.misses, id)
			delete(w.dead, id)
		}
	}
	w.mu.Unlock()

	for _, h := range changes {
		w.logger.Info("session health changed", "session", h.Session.ID, "task", h.Session.TaskID, "alive", h.Alive)
		if w.onHealth != nil {
			w.onHealth(h)
		}
	}
}
