package ralph

import (
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

// MultiObserver fans out progress updates to multiple observers.
// It handles nil observers gracefully by skipping them.
type MultiObserver struct {
	observers []Observer
}

// Ensure MultiObserver implements Observer.
var _ Observer = (*MultiObserver)(nil)

// NewMultiObserver creates a MultiObserver that forwards calls to all provided observers.
// Nil observers are filtered out and not included in the list.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

// safeCall calls fn with panic recovery. One observer failing shouldn't block others.
func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

// OnLoopStart forwards the call to all observers.
func (m *MultiObserver) OnLoopStart(t *task.Task, maxAttempts int) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnLoopStart(t, maxAttempts) })
	}
}

// OnAttemptStart forwards the call to all observers.
func (m *MultiObserver) OnAttemptStart(t *task.Task, attempt int, s session.Session) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnAttemptStart(t, attempt, s) })
	}
}

// OnProgress forwards the call to all observers.
func (m *MultiObserver) OnProgress(t *task.Task, attempt int, tail string) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnProgress(t, attempt, tail) })
	}
}

// OnAttemptEnd forwards the call to all observers.
func (m *MultiObserver) OnAttemptEnd(t *task.Task, rec AttemptRecord) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnAttemptEnd(t, rec) })
	}
}

// OnSuccess forwards the call to all observers.
func (m *MultiObserver) OnSuccess(t *task.Task, r Result) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnSuccess(t, r) })
	}
}

// OnFailure forwards the call to all observers.
func (m *MultiObserver) OnFailure(t *task.Task, r Result) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnFailure(t, r) })
	}
}
