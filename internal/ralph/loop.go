// Package ralph implements the adaptive retry loop that drives one task
// through up to MaxAttempts worker sessions, classifying each failure and
// adjusting the next attempt's prompt.
package ralph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agentdesk/internal/jsonutil"
	"agentdesk/internal/memory"
	"agentdesk/internal/prompt"
	"agentdesk/internal/routing"
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

// DefaultAttemptTimeout bounds the wait for one attempt's session.
const DefaultAttemptTimeout = 30 * time.Minute

// Launcher is the part of *session.Launcher the loop drives.
type Launcher interface {
	Launch(ctx context.Context, opts session.LaunchOptions) (session.Session, error)
	WaitForCompletion(ctx context.Context, id string, opts session.WaitOptions) (session.Result, error)
	Terminate(id string) error
}

// Memory records attempt outcomes. *memory.FileStore implements it.
type Memory interface {
	RecordSuccess(t *task.Task, prompt, result string) (memory.Entry, error)
	RecordFailure(t *task.Task, errText string, a task.FailureAnalysis) (memory.Entry, error)
}

// StopReason indicates why the loop terminated.
type StopReason int

const (
	StopSucceeded    StopReason = iota // An attempt succeeded.
	StopNotRetryable                   // The failure category's retry budget is spent.
	StopMaxAttempts                    // Every attempt failed.
	StopCancelled                      // The context was cancelled (terminate).
)

var stopReasonNames = jsonutil.EnumNames[StopReason]{"succeeded", "not-retryable", "max-attempts", "cancelled"}

func (r StopReason) String() string { return stopReasonNames.Label(r) }

// ParseStopReason converts a string to a StopReason.
func ParseStopReason(s string) (StopReason, error) { return stopReasonNames.Parse("StopReason", s) }

// MarshalJSON implements json.Marshaler.
func (r StopReason) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(r) }

// UnmarshalJSON implements json.Unmarshaler.
func (r *StopReason) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseStopReason)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// EscalationReason is the analysis reason when attempts run out without
// any recorded analysis.
const EscalationReason = "max attempts reached, escalate to a human"

// Config tunes a Loop.
type Config struct {
	// MaxAttempts overrides the task's own limit when positive.
	MaxAttempts    int
	AttemptTimeout time.Duration
	PollInterval   time.Duration
	Policy         RetryPolicy
	Worktree       bool
	Tmux           bool
}

// Request is one run of the loop.
type Request struct {
	Task  *task.Task
	Agent routing.Profile
	Model string
	// Prompt replaces the built first-attempt prompt when set.
	Prompt string
}

// AttemptRecord is the history entry for one attempt.
type AttemptRecord struct {
	Attempt   int
	Prompt    string
	SessionID string
	Result    session.Result
	Analysis  *task.FailureAnalysis
	Duration  time.Duration
}

// State is the loop's transient working state.
type State struct {
	Attempt     int
	MaxAttempts int
	Prompt      string
	Context     task.Context
	History     []AttemptRecord
}

// Result is the loop's terminal summary.
type Result struct {
	Success  bool
	Attempts int
	Stop     StopReason
	Output   string
	ReviewID string
	Analysis *task.FailureAnalysis
	History  []AttemptRecord
}

// Loop runs the retry controller. One Loop may run many tasks concurrently.
type Loop struct {
	launcher    Launcher
	memory      Memory
	categorizer Categorizer
	observer    Observer
	cfg         Config
	logger      *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithCategorizer replaces the keyword categorizer.
func WithCategorizer(c Categorizer) Option { return func(l *Loop) { l.categorizer = c } }

// WithObserver sets the loop observer.
func WithObserver(o Observer) Option { return func(l *Loop) { l.observer = o } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Loop) { l.logger = logger } }

// NewLoop returns a loop. mem may be nil to skip outcome recording.
func NewLoop(launcher Launcher, mem Memory, cfg Config, opts ...Option) *Loop {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultRetryPolicy()
	}
	l := &Loop{
		launcher:    launcher,
		memory:      mem,
		categorizer: KeywordCategorizer{},
		observer:    NoopObserver{},
		cfg:         cfg,
	}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l
}

func (l *Loop) maxAttempts(t *task.Task) int {
	switch {
	case l.cfg.MaxAttempts > 0:
		return l.cfg.MaxAttempts
	case t.MaxAttempts > 0:
		return t.MaxAttempts
	default:
		return task.DefaultMaxAttempts
	}
}

// Run drives req.Task through attempts until one succeeds, a failure is
// not eligible for retry, attempts run out, or ctx is cancelled. It never
// returns an error: worker, session and panic failures all end up in the
// Result's analysis.
func (l *Loop) Run(ctx context.Context, req Request) Result {
	t := req.Task.Clone()
	st := State{
		MaxAttempts: l.maxAttempts(t),
		Prompt:      req.Prompt,
		Context:     t.Context,
	}
	if st.Prompt == "" {
		st.Prompt = prompt.Build(t)
	}
	log := l.logger.With("task", t.ID, "agent", req.Agent.ID)
	log.Info("loop started", "max_attempts", st.MaxAttempts)
	l.observer.OnLoopStart(t, st.MaxAttempts)

	occurrences := make(map[task.Category]int)
	var last *task.FailureAnalysis
	stop := StopMaxAttempts

	for attempt := 1; attempt <= st.MaxAttempts; attempt++ {
		st.Attempt = attempt
		t.Attempts = attempt
		if last != nil {
			st.Prompt = prompt.Adjust(st.Prompt, attempt-1, *last)
		}

		rec, internal := l.attempt(ctx, t, req, &st)
		if rec.Result.Success {
			st.History = append(st.History, rec)
			l.observer.OnAttemptEnd(t, rec)
			l.recordSuccess(log, t, st.Prompt, rec.Result.Output)
			res := Result{
				Success:  true,
				Attempts: attempt,
				Stop:     StopSucceeded,
				Output:   rec.Result.Output,
				ReviewID: rec.Result.ReviewID,
				History:  st.History,
			}
			log.Info("loop succeeded", "attempts", attempt, "review", res.ReviewID)
			l.observer.OnSuccess(t, res)
			return res
		}

		var a task.FailureAnalysis
		if internal {
			a = newAnalysis(rec.Result.Error, task.CategoryUnknown)
		} else {
			a = l.categorize(rec.Result.Error)
		}
		rec.Analysis = &a
		st.History = append(st.History, rec)
		l.observer.OnAttemptEnd(t, rec)
		l.recordFailure(log, t, rec.Result.Error, a)
		last = &a
		occurrences[a.Category]++
		log.Info("attempt failed", "attempt", attempt, "category", a.Category.String(), "reason", a.Reason)

		if ctx.Err() != nil {
			stop = StopCancelled
			break
		}
		if attempt == st.MaxAttempts {
			break
		}
		if !l.cfg.Policy.Allows(a.Category, occurrences[a.Category]) {
			stop = StopNotRetryable
			break
		}
	}

	if last == nil {
		last = &task.FailureAnalysis{Reason: EscalationReason, Category: task.CategoryUnknown}
	}
	res := Result{
		Attempts: len(st.History),
		Stop:     stop,
		Analysis: last,
		History:  st.History,
	}
	log.Info("loop failed", "attempts", res.Attempts, "stop", stop.String())
	l.observer.OnFailure(t, res)
	return res
}

// attempt runs one session. internal reports a failure of the machinery
// (launch error, wait error, panic) rather than of the worker.
func (l *Loop) attempt(ctx context.Context, t *task.Task, req Request, st *State) (rec AttemptRecord, internal bool) {
	rec = AttemptRecord{Attempt: st.Attempt, Prompt: st.Prompt}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			rec.Result = session.Result{Error: fmt.Sprintf("panic: %v", r)}
			internal = true
		}
		rec.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		rec.Result.Error = err.Error()
		return rec, true
	}
	s, err := l.launcher.Launch(ctx, session.LaunchOptions{
		Agent:    req.Agent,
		TaskID:   t.ID,
		Prompt:   st.Prompt,
		Model:    req.Model,
		Worktree: l.cfg.Worktree,
		Tmux:     l.cfg.Tmux,
	})
	if err != nil {
		rec.Result.Error = "launch: " + err.Error()
		return rec, true
	}
	rec.SessionID = s.ID
	t.SessionID = s.ID
	l.observer.OnAttemptStart(t, st.Attempt, s)

	res, err := l.launcher.WaitForCompletion(ctx, s.ID, session.WaitOptions{
		Timeout:      l.cfg.AttemptTimeout,
		PollInterval: l.cfg.PollInterval,
		OnProgress: func(tail string) {
			l.observer.OnProgress(t, st.Attempt, tail)
		},
	})
	if err != nil {
		l.terminate(s.ID)
		rec.Result = session.Result{Error: err.Error()}
		return rec, true
	}
	if !res.Success && res.Error == session.TimeoutError {
		// The session outlives a timed-out wait; stop it so the next
		// attempt can launch.
		l.terminate(s.ID)
	}
	rec.Result = res
	return rec, false
}

func (l *Loop) categorize(errText string) (a task.FailureAnalysis) {
	defer func() {
		if r := recover(); r != nil {
			a = newAnalysis(errText, task.CategoryUnknown)
		}
	}()
	return l.categorizer.Categorize(errText)
}

func (l *Loop) terminate(id string) {
	if err := l.launcher.Terminate(id); err != nil {
		l.logger.Warn("terminate session", "session", id, "error", err)
	}
}

func (l *Loop) recordSuccess(log *slog.Logger, t *task.Task, p, output string) {
	if l.memory == nil {
		return
	}
	if _, err := l.memory.RecordSuccess(t, p, output); err != nil {
		log.Warn("record success", "error", err)
	}
}

func (l *Loop) recordFailure(log *slog.Logger, t *task.Task, errText string, a task.FailureAnalysis) {
	if l.memory == nil {
		return
	}
	if _, err := l.memory.RecordFailure(t, errText, a); err != nil {
		log.Warn("record failure", "error", err)
	}
}
