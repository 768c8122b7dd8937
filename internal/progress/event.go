// Package progress turns loop callbacks into a stream of events that a
// display can consume without slowing the loop down.
package progress

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"agentdesk/internal/ralph"
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

// Status indicates the state of the operation an event reports on.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// Kind says which loop step produced an event.
type Kind string

const (
	KindAttemptStart Kind = "attempt-start"
	KindOutput       Kind = "output"
	KindAttemptEnd   Kind = "attempt-end"
	KindFinished     Kind = "finished"
)

// Event is one progress update.
type Event struct {
	TaskID    string
	Attempt   int
	Kind      Kind
	Message   string
	Status    Status
	Timestamp time.Time
	Metadata  map[string]string // optional: session, tmux, category, etc.
}

// Emitter receives events.
type Emitter interface {
	Emit(ev Event)
}

// ChanEmitter emits events to a channel.
type ChanEmitter struct {
	Ch chan<- Event
}

// Emit sends the event to the channel (non-blocking; drops if full).
func (e *ChanEmitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.Ch <- ev:
	default:
		// Channel full; drop to avoid blocking the loop
	}
}

// Observer is a ralph.Observer that forwards loop callbacks to an Emitter.
type Observer struct {
	ralph.NoopObserver
	emitter Emitter
}

var _ ralph.Observer = (*Observer)(nil)

// NewObserver returns an Observer emitting to e.
func NewObserver(e Emitter) *Observer {
	return &Observer{emitter: e}
}

func (o *Observer) OnAttemptStart(t *task.Task, attempt int, s session.Session) {
	meta := map[string]string{"session": s.ID}
	if s.TmuxSession != "" {
		meta["tmux"] = s.TmuxSession
	}
	if s.Branch != "" {
		meta["branch"] = s.Branch
	}
	o.emitter.Emit(Event{
		TaskID:   t.ID,
		Attempt:  attempt,
		Kind:     KindAttemptStart,
		Message:  fmt.Sprintf("attempt %d started", attempt),
		Status:   StatusRunning,
		Metadata: meta,
	})
}

// OnProgress emits the last non-empty line of the session output.
func (o *Observer) OnProgress(t *task.Task, attempt int, tail string) {
	line := LastLine(tail)
	if line == "" {
		return
	}
	o.emitter.Emit(Event{
		TaskID:  t.ID,
		Attempt: attempt,
		Kind:    KindOutput,
		Message: line,
		Status:  StatusRunning,
	})
}

func (o *Observer) OnAttemptEnd(t *task.Task, rec ralph.AttemptRecord) {
	ev := Event{
		TaskID:   t.ID,
		Attempt:  rec.Attempt,
		Kind:     KindAttemptEnd,
		Status:   StatusDone,
		Message:  fmt.Sprintf("attempt %d succeeded", rec.Attempt),
		Metadata: map[string]string{"duration": rec.Duration.Truncate(time.Second).String()},
	}
	if rec.Analysis != nil {
		ev.Status = StatusError
		ev.Message = fmt.Sprintf("attempt %d failed: %s", rec.Attempt, rec.Analysis.Reason)
		ev.Metadata["category"] = rec.Analysis.Category.String()
		ev.Metadata["reason"] = rec.Analysis.Reason
	}
	o.emitter.Emit(ev)
}

func (o *Observer) OnSuccess(t *task.Task, r ralph.Result) {
	meta := map[string]string{"attempts": strconv.Itoa(r.Attempts)}
	if r.ReviewID != "" {
		meta["review"] = r.ReviewID
	}
	o.emitter.Emit(Event{
		TaskID:   t.ID,
		Attempt:  r.Attempts,
		Kind:     KindFinished,
		Message:  "task succeeded",
		Status:   StatusDone,
		Metadata: meta,
	})
}

func (o *Observer) OnFailure(t *task.Task, r ralph.Result) {
	st := StatusError
	if r.Stop == ralph.StopCancelled {
		st = StatusAborted
	}
	o.emitter.Emit(Event{
		TaskID:   t.ID,
		Attempt:  r.Attempts,
		Kind:     KindFinished,
		Message:  "task failed: " + r.Stop.String(),
		Status:   st,
		Metadata: map[string]string{"attempts": strconv.Itoa(r.Attempts)},
	})
}

// LastLine returns the last non-blank line of s, trimmed.
func LastLine(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
