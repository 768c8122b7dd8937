package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"agentdesk/internal/monitor"
	"agentdesk/internal/orchestrator"
	"agentdesk/internal/progress"
	"agentdesk/internal/routing"
	"agentdesk/internal/task"
)

func goalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "agent", Usage: "force an agent id instead of scoring the capability table"},
		&cli.StringFlag{Name: "tier", Usage: "force a model tier (cheap, balanced, smart)"},
		&cli.StringFlag{Name: "priority", Usage: "override the inferred priority"},
		&cli.IntFlag{Name: "max-attempts", Usage: "attempt limit for this task"},
	}
}

func goalOptions(cmd *cli.Command) (orchestrator.GoalOptions, error) {
	opts := orchestrator.GoalOptions{
		Agent:       cmd.String("agent"),
		MaxAttempts: cmd.Int("max-attempts"),
	}
	if s := cmd.String("tier"); s != "" {
		tier, err := routing.ParseTier(s)
		if err != nil {
			return opts, err
		}
		opts.Tier = &tier
	}
	if s := cmd.String("priority"); s != "" {
		p, err := task.ParsePriority(s)
		if err != nil {
			return opts, err
		}
		opts.Priority = &p
	}
	return opts, nil
}

func goalText(cmd *cli.Command) (string, error) {
	text := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if text == "" {
		return "", usage("agentdesk %s <goal>", cmd.Name)
	}
	return text, nil
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Handle a goal and supervise it to a terminal outcome",
		ArgsUsage: "<goal>",
		Flags: append(goalFlags(),
			&cli.BoolFlag{Name: "tmux", Usage: "run workers in tmux sessions"},
			&cli.BoolFlag{Name: "worktree", Usage: "give each task its own git worktree"},
			&cli.BoolFlag{Name: "pty", Usage: "run process-mode workers on a pseudo-terminal"},
		),
		Action: runGoal,
	}
}

func runGoal(ctx context.Context, cmd *cli.Command) error {
	text, err := goalText(cmd)
	if err != nil {
		return err
	}
	opts, err := goalOptions(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	loop := a.cfg.Loop
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = loop.MaxAttempts
	}
	loop.Tmux = loop.Tmux || cmd.Bool("tmux")
	loop.Worktree = loop.Worktree || cmd.Bool("worktree")
	loop.PTY = loop.PTY || cmd.Bool("pty")

	events := make(chan progress.Event, 64)
	rt, err := a.newRuntime(ctx, loop, progress.NewObserver(&progress.ChanEmitter{Ch: events}))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracing shutdown", "error", err)
		}
	}()

	monitorCtx, stopMonitors := context.WithCancel(ctx)
	defer stopMonitors()
	watcher := monitor.NewAgentWatcher(rt.launcher.Registry(), rt.launcher,
		func(h monitor.Health) { rt.orch.HandleSessionHealth(monitorCtx, h) },
		monitor.WithWatchInterval(a.cfg.Monitor.WatchInterval),
		monitor.WithWatcherLogger(a.logger))
	watcher.Start(monitorCtx)
	defer watcher.Stop()
	if rt.reviews.Enabled() {
		checker := monitor.NewReviewChecker(rt.reviews, rt.orch.ReviewTargets,
			func(u monitor.ReviewUpdate) { rt.orch.HandleReviewUpdate(monitorCtx, u) },
			monitor.WithReviewInterval(a.cfg.Monitor.ReviewInterval),
			monitor.WithReviewLogger(a.logger))
		checker.Start(monitorCtx)
		defer checker.Stop()
	}

	t, err := rt.orch.HandleGoal(ctx, text, opts)
	if err != nil {
		return err
	}
	a.writef("%s %s  %s %s\n",
		a.styles.Title.Render("Task"), a.styles.TaskID.Render(t.ID),
		a.styles.Agent.Render(t.Agent), a.styles.Muted.Render(t.Model))
	a.writef("%s\n", a.styles.Muted.Render(fmt.Sprintf("%s, %s priority, %s complexity",
		t.Type, t.Priority, t.Context.Complexity)))

	finished := make(chan struct{})
	go func() {
		rt.orch.Wait()
		close(finished)
	}()
	p := &eventPrinter{app: a}
	interrupted := ctx.Done()
	for waiting := true; waiting; {
		select {
		case ev := <-events:
			p.print(ev)
		case <-interrupted:
			interrupted = nil
			a.writef("%s\n", a.styles.Warning.Render("interrupted, terminating task"))
			if err := rt.orch.TerminateTask(t.ID); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
				a.logger.Warn("terminate task", "task", t.ID, "error", err)
			}
		case <-finished:
			waiting = false
		}
	}
drain:
	for {
		select {
		case ev := <-events:
			p.print(ev)
		default:
			break drain
		}
	}

	final, err := a.tasks.Get(t.ID)
	if err != nil {
		return err
	}
	a.printOutcome(final)
	if final.Status == task.StatusFailed {
		return fmt.Errorf("task %s failed", final.ID)
	}
	return nil
}

// eventPrinter renders loop progress. Repeated output lines are shown once.
type eventPrinter struct {
	app        *app
	lastOutput string
}

func (p *eventPrinter) print(ev progress.Event) {
	a := p.app
	switch ev.Kind {
	case progress.KindAttemptStart:
		line := fmt.Sprintf("attempt %d started (session %s", ev.Attempt, ev.Metadata["session"])
		if tm := ev.Metadata["tmux"]; tm != "" {
			line += ", tmux " + tm
		}
		a.writef("%s\n", a.styles.Status.Render(line+")"))
	case progress.KindOutput:
		if ev.Message == p.lastOutput {
			return
		}
		p.lastOutput = ev.Message
		a.writef("  %s\n", a.styles.Muted.Render(truncate(ev.Message, 100)))
	case progress.KindAttemptEnd:
		d := ev.Metadata["duration"]
		if ev.Status == progress.StatusDone {
			a.writef("%s attempt %d succeeded in %s\n", a.styles.Success.Render(iconSuccess), ev.Attempt, d)
			return
		}
		a.writef("%s attempt %d failed in %s: %s\n", a.styles.Error.Render(iconFailed), ev.Attempt, d,
			a.styles.Muted.Render(fmt.Sprintf("[%s] %s", ev.Metadata["category"], ev.Metadata["reason"])))
	}
}

func (a *app) printOutcome(t *task.Task) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", a.styles.status(t.Status), t.Title)
	fmt.Fprintf(&b, "attempts %d/%d", t.Attempts, t.MaxAttempts)
	if t.Result != nil && t.Result.ReviewID != "" {
		fmt.Fprintf(&b, "\nreview   #%s", t.Result.ReviewID)
	}
	if t.Analysis != nil && t.Status == task.StatusFailed {
		fmt.Fprintf(&b, "\nreason   [%s] %s", t.Analysis.Category, t.Analysis.Reason)
		if t.Analysis.Suggestion != "" {
			fmt.Fprintf(&b, "\nnext     %s", t.Analysis.Suggestion)
		}
	}
	a.writef("%s\n", a.styles.Border.Render(b.String()))
}

func newRouteCommand() *cli.Command {
	return &cli.Command{
		Name:      "route",
		Usage:     "Show how a goal would be classified, assigned and routed",
		ArgsUsage: "<goal>",
		Flags:     goalFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text, err := goalText(cmd)
			if err != nil {
				return err
			}
			opts, err := goalOptions(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			profiles, err := a.cfg.Profiles()
			if err != nil {
				return err
			}
			orch := orchestrator.New(a.tasks, nil,
				orchestrator.WithProfiles(profiles),
				orchestrator.WithHistory(a.memory),
				orchestrator.WithLogger(a.logger))
			plan, err := orch.Plan(text, opts)
			if err != nil {
				return err
			}
			a.printPlan(plan)
			return nil
		},
	}
}

func (a *app) printPlan(p orchestrator.Plan) {
	c := p.Classification
	a.writef("%s %s\n", a.styles.Title.Render("Goal"), c.Title)
	a.writef("  type %s  priority %s  area %s  complexity %s\n", c.Type, c.Priority, c.Area, c.Complexity)
	for _, r := range c.Requirements {
		a.writef("  %s %s\n", a.styles.Muted.Render("must"), r)
	}
	for _, r := range c.Constraints {
		a.writef("  %s %s\n", a.styles.Muted.Render("must not"), r)
	}
	a.writef("%s %s\n", a.styles.Title.Render("Agent"), a.styles.Agent.Render(p.Selection.Agent.ID))
	for _, cand := range p.Selection.Candidates {
		marker := " "
		if cand.Agent == p.Selection.Agent.ID {
			marker = iconSuccess
		}
		a.writef("  %s %-8s %6.1f\n", marker, cand.Agent, cand.Score)
	}
	model := p.Model
	if model == "" {
		model = "(cli default)"
	}
	a.writef("%s %s %s  %s\n", a.styles.Title.Render("Model"), p.Route.Tier, model,
		a.styles.Muted.Render(fmt.Sprintf("%.2f, %s", p.Route.Confidence, p.Route.Reason)))
}
