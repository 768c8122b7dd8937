// Package orchestrator turns goals into tasks and drives each through the
// retry loop, reporting terminal outcomes to the notifier.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"agentdesk/internal/goal"
	"agentdesk/internal/memory"
	"agentdesk/internal/notify"
	"agentdesk/internal/ralph"
	"agentdesk/internal/routing"
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

var (
	// ErrNoAgent is returned when the capability table is empty or an
	// explicitly requested agent does not exist.
	ErrNoAgent = errors.New("no agent available")
	// ErrNotRunning is returned by TerminateTask for a task with neither a
	// loop nor an active session.
	ErrNotRunning = errors.New("task is not running")
	// ErrNoSession is returned by SendCommand for a task without an active
	// session.
	ErrNoSession = errors.New("task has no active session")
)

// memoryContextLimit bounds how many memory lines a new task carries.
const memoryContextLimit = 5

// Loop runs one task to a terminal outcome. *ralph.Loop implements it.
type Loop interface {
	Run(ctx context.Context, req ralph.Request) ralph.Result
}

// Sessions is the session surface the orchestrator drives.
// *session.Launcher implements it.
type Sessions interface {
	Registry() *session.Registry
	SendCommand(id, text string) error
	Terminate(id string) error
}

// Memory answers context queries for new tasks. *memory.FileStore
// implements it.
type Memory interface {
	Query(q memory.Query) ([]memory.Entry, error)
}

// Scanner produces tasks from an outside source such as an issue tracker.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]task.Task, error)
}

// Orchestrator is the entry point for goals and operator commands.
type Orchestrator struct {
	tasks    task.Store
	loop     Loop
	sessions Sessions
	memory   Memory
	analyzer goal.Analyzer
	selector routing.Selector
	router   routing.Router
	profiles []routing.Profile
	notifier *notify.Dispatcher
	scanners []Scanner
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc // task id -> loop cancel
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessions sets the session launcher used by TerminateTask and
// SendCommand.
func WithSessions(s Sessions) Option { return func(o *Orchestrator) { o.sessions = s } }

// WithMemory sets the memory queried for task context.
func WithMemory(m Memory) Option { return func(o *Orchestrator) { o.memory = m } }

// WithAnalyzer replaces the keyword goal analyzer.
func WithAnalyzer(a goal.Analyzer) Option { return func(o *Orchestrator) { o.analyzer = a } }

// WithHistory feeds agent success rates to the selector.
func WithHistory(h routing.History) Option { return func(o *Orchestrator) { o.selector.History = h } }

// WithProfiles replaces the built-in capability table.
func WithProfiles(p []routing.Profile) Option { return func(o *Orchestrator) { o.profiles = p } }

// WithNotifier sets where terminal outcomes are reported.
func WithNotifier(d *notify.Dispatcher) Option { return func(o *Orchestrator) { o.notifier = d } }

// WithScanners sets the sources ProactiveScan pulls from.
func WithScanners(s ...Scanner) Option { return func(o *Orchestrator) { o.scanners = s } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(o *Orchestrator) { o.logger = logger } }

// New returns an orchestrator over tasks and loop.
func New(tasks task.Store, loop Loop, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tasks:    tasks,
		loop:     loop,
		analyzer: goal.KeywordAnalyzer{},
		profiles: routing.DefaultProfiles(),
		running:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.notifier == nil {
		o.notifier = notify.NewDispatcher(notify.LogNotifier{Logger: o.logger}, o.logger)
	}
	return o
}

// GoalOptions adjusts how HandleGoal sets up a task.
type GoalOptions struct {
	// Agent forces a profile id instead of scoring the table.
	Agent string
	// Tier forces a model tier instead of routing.
	Tier        *routing.Tier
	Priority    *task.Priority
	MaxAttempts int
}

// Plan is the analysis HandleGoal acts on. Route uses it for dry runs.
type Plan struct {
	Classification goal.Classification
	Selection      routing.Selection
	Route          routing.Route
	Model          string
}

// Plan analyzes text and picks an agent and model without creating
// anything.
func (o *Orchestrator) Plan(text string, opts GoalOptions) (Plan, error) {
	c := o.analyzer.Analyze(text)
	if opts.Priority != nil {
		c.Priority = *opts.Priority
	}
	p := Plan{Classification: c}
	if opts.Agent != "" {
		prof, ok := routing.Find(o.profiles, opts.Agent)
		if !ok {
			return p, fmt.Errorf("%w: unknown agent %q", ErrNoAgent, opts.Agent)
		}
		p.Selection = routing.Selection{Agent: prof}
	} else {
		p.Selection = o.selector.Select(c, o.profiles)
		if p.Selection.Agent.ID == "" {
			return p, ErrNoAgent
		}
	}
	p.Route = o.router.Route(text, c.Type)
	if opts.Tier != nil {
		p.Route = routing.Route{Tier: *opts.Tier, Confidence: 1, Reason: "requested"}
	}
	p.Model = o.router.Model(p.Route.Tier, p.Selection.Agent)
	return p, nil
}

// HandleGoal creates a task for text, starts its loop in the background and
// returns the task as soon as it is running. The loop outlives ctx; use
// TerminateTask to stop it.
func (o *Orchestrator) HandleGoal(ctx context.Context, text string, opts GoalOptions) (*task.Task, error) {
	plan, err := o.Plan(text, opts)
	if err != nil {
		return nil, err
	}
	c := plan.Classification
	profile := plan.Selection.Agent

	t, err := o.tasks.Create(task.Task{
		Title:       c.Title,
		Description: text,
		Type:        c.Type,
		Priority:    c.Priority,
		Goal:        text,
		Context: task.Context{
			Area:         c.Area,
			Complexity:   c.Complexity,
			Requirements: c.Requirements,
			Constraints:  c.Constraints,
			Memory:       o.memoryContext(c),
		},
		Agent:       profile.ID,
		Model:       plan.Model,
		MaxAttempts: opts.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	log := o.logger.With("task", t.ID)
	log.Info("task created", "type", t.Type.String(), "agent", profile.ID,
		"score", plan.Selection.Score, "tier", plan.Route.Tier.String(), "reason", plan.Route.Reason)

	if t, err = o.tasks.Transition(t.ID, task.EventStart); err != nil {
		return nil, err
	}
	if t, err = o.tasks.Transition(t.ID, task.EventComplete); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.running[t.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func(t *task.Task) {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, t.ID)
			o.mu.Unlock()
			cancel()
		}()
		res := o.loop.Run(loopCtx, ralph.Request{Task: t, Agent: profile, Model: plan.Model})
		o.finish(loopCtx, t, res)
	}(t.Clone())

	return t, nil
}

// memoryContext returns one-line summaries of past outcomes for the same
// type, preferring those in the same area.
func (o *Orchestrator) memoryContext(c goal.Classification) []string {
	if o.memory == nil {
		return nil
	}
	queries := []memory.Query{
		{Tags: []string{c.Type.String(), c.Area}, Limit: memoryContextLimit},
		{Tags: []string{c.Type.String()}, Limit: memoryContextLimit},
	}
	seen := make(map[string]bool)
	var lines []string
	for _, q := range queries {
		entries, err := o.memory.Query(q)
		if err != nil {
			o.logger.Warn("query memory", "error", err)
			return lines
		}
		for _, e := range entries {
			if seen[e.ID] || len(lines) >= memoryContextLimit {
				continue
			}
			seen[e.ID] = true
			lines = append(lines, memory.Summary(e))
		}
	}
	return lines
}

// finish folds the loop result into the task and sends the one
// notification for this outcome.
func (o *Orchestrator) finish(ctx context.Context, t *task.Task, res ralph.Result) {
	log := o.logger.With("task", t.ID)
	patch := task.Patch{Attempts: task.Ptr(res.Attempts)}
	if n := len(res.History); n > 0 && res.History[n-1].SessionID != "" {
		patch.SessionID = task.Ptr(res.History[n-1].SessionID)
	}
	data := map[string]string{
		"task":     t.ID,
		"agent":    t.Agent,
		"attempts": fmt.Sprint(res.Attempts),
	}

	if res.Success {
		patch.Result = &task.Result{Output: res.Output, ReviewID: res.ReviewID}
		o.update(log, t.ID, patch)
		o.transition(log, t.ID, task.EventComplete)
		if res.ReviewID != "" {
			data["review"] = res.ReviewID
			o.notify(ctx, notify.Message{
				Type:    notify.TypeReviewReady,
				Title:   t.Title,
				Message: fmt.Sprintf("Review %s is ready after %d attempt(s).", res.ReviewID, res.Attempts),
				Data:    data,
			})
			return
		}
		o.transition(log, t.ID, task.EventApprove)
		o.notify(ctx, notify.Message{
			Type:    notify.TypeTaskComplete,
			Title:   t.Title,
			Message: fmt.Sprintf("Completed after %d attempt(s).", res.Attempts),
			Data:    data,
		})
		return
	}

	patch.Analysis = res.Analysis
	o.update(log, t.ID, patch)
	o.transition(log, t.ID, task.EventFail)
	msg := "Failed"
	if res.Analysis != nil {
		msg = fmt.Sprintf("Failed (%s): %s", res.Analysis.Category, res.Analysis.Reason)
		data["category"] = res.Analysis.Category.String()
		data["suggestion"] = res.Analysis.Suggestion
	}
	data["stop"] = res.Stop.String()
	o.notify(ctx, notify.Message{
		Type:     notify.TypeTaskFailed,
		Title:    t.Title,
		Message:  msg,
		Data:     data,
		Priority: notify.PriorityHigh,
	})
}

func (o *Orchestrator) update(log *slog.Logger, id string, p task.Patch) {
	if _, err := o.tasks.Update(id, p); err != nil {
		log.Warn("update task", "error", err)
	}
}

func (o *Orchestrator) transition(log *slog.Logger, id string, e task.Event) {
	if _, err := o.tasks.Transition(id, e); err != nil {
		log.Warn("transition task", "event", e.String(), "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, m notify.Message) {
	o.notifier.Send(context.WithoutCancel(ctx), m)
}

// TerminateTask stops a task's loop and kills its active session. The loop
// records the attempt as failed and the task ends failed.
func (o *Orchestrator) TerminateTask(taskID string) error {
	o.mu.Lock()
	cancel, looping := o.running[taskID]
	o.mu.Unlock()
	if looping {
		cancel()
	}

	var err error
	killed := false
	if o.sessions != nil {
		if s, ok := o.sessions.Registry().ForTask(taskID); ok && !s.Status.IsTerminal() {
			err = o.sessions.Terminate(s.ID)
			killed = true
		}
	}
	if !looping && !killed {
		return fmt.Errorf("%w: %s", ErrNotRunning, taskID)
	}
	o.logger.Info("task terminated", "task", taskID)
	return err
}

// SendCommand types text into the task's interactive session.
func (o *Orchestrator) SendCommand(taskID, text string) error {
	if o.sessions == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, taskID)
	}
	s, ok := o.sessions.Registry().ForTask(taskID)
	if !ok || s.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrNoSession, taskID)
	}
	return o.sessions.SendCommand(s.ID, text)
}

// ListTasks returns the tasks matching f.
func (o *Orchestrator) ListTasks(f task.Filter) ([]*task.Task, error) {
	return o.tasks.List(f)
}

// Wait blocks until every loop started by HandleGoal has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Running reports how many loops are in flight.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}
