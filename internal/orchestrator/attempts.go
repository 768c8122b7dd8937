package orchestrator

import (
	"log/slog"

	"agentdesk/internal/ralph"
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

// AttemptRecorder persists a task's attempt count and session as each
// attempt starts, so the store reflects a loop that is still running.
type AttemptRecorder struct {
	ralph.NoopObserver
	tasks  task.Store
	logger *slog.Logger
}

// NewAttemptRecorder returns an observer that writes attempt progress to
// tasks.
func NewAttemptRecorder(tasks task.Store, logger *slog.Logger) *AttemptRecorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AttemptRecorder{tasks: tasks, logger: logger}
}

func (r *AttemptRecorder) OnAttemptStart(t *task.Task, attempt int, s session.Session) {
	p := task.Patch{Attempts: task.Ptr(attempt)}
	if s.ID != "" {
		p.SessionID = task.Ptr(s.ID)
	}
	if _, err := r.tasks.Update(t.ID, p); err != nil {
		r.logger.Warn("record attempt", "task", t.ID, "attempt", attempt, "error", err)
	}
}
