package ralph

import (
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

// Observer receives loop progress. Calls for one loop are sequential;
// calls for different loops may be concurrent.
type Observer interface {
	OnLoopStart(t *task.Task, maxAttempts int)
	OnAttemptStart(t *task.Task, attempt int, s session.Session)
	OnProgress(t *task.Task, attempt int, tail string)
	OnAttemptEnd(t *task.Task, rec AttemptRecord)
	OnSuccess(t *task.Task, r Result)
	OnFailure(t *task.Task, r Result)
}

// NoopObserver implements Observer with no-ops. Embed it to implement only
// the methods you need.
type NoopObserver struct{}

var _ Observer = NoopObserver{}

func (NoopObserver) OnLoopStart(*task.Task, int)                     {}
func (NoopObserver) OnAttemptStart(*task.Task, int, session.Session) {}
func (NoopObserver) OnProgress(*task.Task, int, string)              {}
func (NoopObserver) OnAttemptEnd(*task.Task, AttemptRecord)          {}
func (NoopObserver) OnSuccess(*task.Task, Result)                    {}
func (NoopObserver) OnFailure(*task.Task, Result)                    {}
