package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"agentdesk/internal/monitor"
	"agentdesk/internal/orchestrator"
	"agentdesk/internal/review"
	"agentdesk/internal/task"
	"agentdesk/internal/tmux"
	"agentdesk/internal/worktree"
)

var errReviewsDisabled = errors.New("review host disabled: set review.token, GH_TOKEN or review.use_gh_auth")

func newReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Follow and land the reviews of finished tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "Show the review state of tasks in review",
				Action: runReviewList,
			},
			{
				Name:   "sync",
				Usage:  "Poll every review once and apply merges and closes",
				Action: runReviewSync,
			},
			{
				Name:      "merge",
				Usage:     "Merge a task's review and approve the task",
				ArgsUsage: "<task_id>",
				Action:    runReviewMerge,
			},
		},
		DefaultCommand: "list",
	}
}

// reviewApp opens the app with an enabled review client and an
// orchestrator that can apply review outcomes.
func reviewApp(cmd *cli.Command) (*app, *review.Client, *orchestrator.Orchestrator, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	reviews := a.reviews()
	if !reviews.Enabled() {
		a.Close()
		return nil, nil, nil, errReviewsDisabled
	}
	orch := orchestrator.New(a.tasks, nil,
		orchestrator.WithNotifier(a.notifier()),
		orchestrator.WithLogger(a.logger),
	)
	return a, reviews, orch, nil
}

func runReviewList(ctx context.Context, cmd *cli.Command) error {
	a, reviews, orch, err := reviewApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	targets := orch.ReviewTargets()
	if len(targets) == 0 {
		a.writef("No tasks in review.\n")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tREVIEW\tSTATE\tDECISION\tCHECKS")
	for _, tg := range targets {
		id := findReview(ctx, a, reviews, tg)
		if id == "" {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", shortID(tg.TaskID))
			continue
		}
		st := reviewStatus(ctx, a, reviews, id)
		if st == nil {
			fmt.Fprintf(w, "%s\t#%s\t?\t-\t-\n", shortID(tg.TaskID), id)
			continue
		}
		fmt.Fprintf(w, "%s\t#%s\t%s\t%s\t%s\n", shortID(tg.TaskID), id,
			st.State, orDash(st.ReviewDecision), st.ChecksState())
	}
	return w.Flush()
}

func runReviewSync(ctx context.Context, cmd *cli.Command) error {
	a, reviews, orch, err := reviewApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	changed := 0
	checker := monitor.NewReviewChecker(reviews, orch.ReviewTargets, func(u monitor.ReviewUpdate) {
		changed++
		orch.HandleReviewUpdate(ctx, u)
		a.writef("%s #%s %s\n", a.styles.TaskID.Render(shortID(u.TaskID)), u.ReviewID, u.Status.State)
	}, monitor.WithReviewLogger(a.logger))
	checker.Check(ctx)
	a.writef("%d reviews changed\n", changed)
	return nil
}

func runReviewMerge(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return usage("agentdesk review merge <task_id>")
	}
	a, reviews, orch, err := reviewApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tasks.Get(id)
	if err != nil {
		return err
	}
	if t.Status != task.StatusReviewing {
		return fmt.Errorf("task %s is %s, not in review", id, t.Status)
	}
	tg := monitor.Target{TaskID: t.ID}
	if t.Agent != "" {
		tg.Branch = worktree.BranchName(t.Agent, t.ID)
	}
	if t.Result != nil {
		tg.ReviewID = t.Result.ReviewID
	}
	reviewID := findReview(ctx, a, reviews, tg)
	if reviewID == "" {
		return fmt.Errorf("no open review for task %s", id)
	}
	number, err := strconv.Atoi(reviewID)
	if err != nil {
		return fmt.Errorf("invalid review id %q: %w", reviewID, err)
	}
	if err := reviews.Merge(ctx, number); err != nil {
		return fmt.Errorf("merge review #%d: %w", number, err)
	}
	st, err := reviews.Status(ctx, number)
	if err != nil {
		return fmt.Errorf("review #%d status: %w", number, err)
	}
	if st != nil {
		orch.HandleReviewUpdate(ctx, monitor.ReviewUpdate{
			TaskID:   t.ID,
			Branch:   tg.Branch,
			ReviewID: reviewID,
			Status:   *st,
		})
	}
	if t, err = a.tasks.Get(id); err != nil {
		return err
	}
	a.writef("Merged #%d %s\n", number, a.styles.status(t.Status))
	return nil
}

// findReview returns the target's review number, looking up the open PR
// on its branch when none is recorded.
func findReview(ctx context.Context, a *app, reviews *review.Client, tg monitor.Target) string {
	if tg.ReviewID != "" {
		return tg.ReviewID
	}
	pr, err := reviews.FindOpen(ctx, tg.Branch)
	if err != nil {
		a.logger.Warn("find review", "task", tg.TaskID, "branch", tg.Branch, "error", err)
		return ""
	}
	if pr == nil {
		return ""
	}
	return pr.ID()
}

func reviewStatus(ctx context.Context, a *app, reviews *review.Client, id string) *review.Status {
	number, err := strconv.Atoi(id)
	if err != nil {
		return nil
	}
	st, err := reviews.Status(ctx, number)
	if err != nil {
		a.logger.Warn("review status", "review", id, "error", err)
		return nil
	}
	return st
}

func newSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:   "sessions",
		Usage:  "List live worker tmux sessions",
		Action: runSessions,
	}
}

func runSessions(_ context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !tmux.Available() {
		a.writef("tmux is not installed.\n")
		return nil
	}
	srv, err := tmux.New()
	if err != nil {
		return err
	}
	live, err := srv.ListSessions()
	if err != nil {
		return err
	}
	if len(live) == 0 {
		a.writef("No live sessions.\n")
		return nil
	}

	tasks, err := a.tasks.List(task.Filter{})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	owners := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		owners[tmux.SessionName(t.ID)] = t
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTASK\tAGENT\tSTATUS")
	for _, name := range slices.Sorted(maps.Keys(live)) {
		t, ok := owners[name]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\t-\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, shortID(t.ID), orDash(t.Agent), a.styles.status(t.Status))
	}
	return w.Flush()
}
