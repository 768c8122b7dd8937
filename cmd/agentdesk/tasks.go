package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"agentdesk/internal/task"
	"agentdesk/internal/worktree"
)

func newTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and manage tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Usage: "only tasks with this status (repeatable)"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "log",
				Usage:     "Print the prompt and output kept for each attempt",
				ArgsUsage: "<task_id> [attempt]",
				Action:    runTasksLog,
			},
			{
				Name:      "transition",
				Usage:     "Apply a lifecycle event to a task",
				ArgsUsage: "<task_id> <event>",
				Action:    runTasksTransition,
			},
			{
				Name:      "delete",
				Usage:     "Delete a task",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "worktree", Usage: "also remove the task's git worktree"},
				},
				Action: runTasksDelete,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	var filter task.Filter
	for _, s := range cmd.StringSlice("status") {
		st, err := task.ParseStatus(s)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.tasks.List(filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		a.writef("No tasks found.\n")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAGENT\tATTEMPTS\tUPDATED\tTITLE\tSTATUS")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			shortID(t.ID),
			t.Type,
			orDash(t.Agent),
			t.Attempts, t.MaxAttempts,
			t.UpdatedAt.Local().Format("01-02 15:04"),
			truncate(t.Title, 50),
			a.styles.status(t.Status),
		)
	}
	return w.Flush()
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return usage("agentdesk tasks show <task_id>")
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tasks.Get(id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	a.writef("ID:          %s\n", a.styles.TaskID.Render(t.ID))
	a.writef("Title:       %s\n", t.Title)
	a.writef("Status:      %s\n", a.styles.status(t.Status))
	a.writef("Type:        %s\n", t.Type)
	a.writef("Priority:    %s\n", t.Priority)
	a.writef("Created:     %s\n", t.CreatedAt.Local().Format(time.DateTime))
	a.writef("Updated:     %s\n", t.UpdatedAt.Local().Format(time.DateTime))
	if t.Agent != "" {
		a.writef("Agent:       %s %s\n", a.styles.Agent.Render(t.Agent), a.styles.Muted.Render(t.Model))
	}
	a.writef("Attempts:    %d/%d\n", t.Attempts, t.MaxAttempts)
	if t.SessionID != "" {
		a.writef("Session:     %s\n", t.SessionID)
	}
	if t.Source != "" {
		a.writef("Source:      %s %s\n", t.Source, t.ExternalRef)
	}

	ctx := t.Context
	a.writef("\nContext:     %s area, %s complexity\n", orDash(ctx.Area), ctx.Complexity)
	writeList := func(heading string, items []string) {
		if len(items) == 0 {
			return
		}
		a.writef("%s\n", a.styles.Subtitle.Render(heading))
		for _, it := range items {
			a.writef("  - %s\n", it)
		}
	}
	writeList("Requirements:", ctx.Requirements)
	writeList("Constraints:", ctx.Constraints)
	writeList("Files:", ctx.Files)
	writeList("Memory:", ctx.Memory)

	if t.Goal != "" && t.Goal != t.Title {
		a.writef("\nGoal:\n%s\n", t.Goal)
	}
	if t.Analysis != nil {
		a.writef("\n%s [%s] %s\n", a.styles.Error.Render("Failure:"), t.Analysis.Category, t.Analysis.Reason)
		if t.Analysis.Suggestion != "" {
			a.writef("Suggestion:  %s\n", t.Analysis.Suggestion)
		}
	}
	if t.Result != nil {
		if t.Result.ReviewID != "" {
			a.writef("\nReview:      #%s\n", t.Result.ReviewID)
		}
		if out := strings.TrimSpace(t.Result.Output); out != "" {
			a.writef("\nOutput:\n%s\n", out)
		}
	}

	attempts, err := a.artifacts.Load(t.ID)
	if err != nil {
		a.logger.Warn("load attempt artifacts", "task", t.ID, "error", err)
	}
	if len(attempts) > 0 {
		a.writef("\n%s\n", a.styles.Subtitle.Render("Attempts:"))
		for _, at := range attempts {
			a.writef("  %d  %s %s\n", at.Number, at.Summary(), a.styles.Muted.Render(at.SessionID))
		}
	}
	return nil
}

func runTasksLog(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return usage("agentdesk tasks log <task_id> [attempt]")
	}
	only := 0
	if n := cmd.Args().Get(1); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v < 1 {
			return usage("attempt must be a positive number, got %q", n)
		}
		only = v
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	attempts, err := a.artifacts.Load(id)
	if err != nil {
		return fmt.Errorf("load attempts: %w", err)
	}
	shown := 0
	for _, at := range attempts {
		if only != 0 && at.Number != only {
			continue
		}
		shown++
		a.writef("%s %s\n", a.styles.Title.Render(fmt.Sprintf("Attempt %d", at.Number)), at.Summary())
		a.writef("%s\n%s\n\n", a.styles.Subtitle.Render("Prompt:"), at.Prompt)
		a.writef("%s\n%s\n\n", a.styles.Subtitle.Render("Output:"), orDash(at.Output))
	}
	if shown == 0 {
		a.writef("No attempts recorded for %s.\n", id)
	}
	return nil
}

func runTasksTransition(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		return usage("agentdesk tasks transition <task_id> <event>")
	}
	e, err := task.ParseEvent(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tasks.Transition(cmd.Args().First(), e)
	if err != nil {
		return err
	}
	a.writef("%s %s\n", a.styles.TaskID.Render(shortID(t.ID)), a.styles.status(t.Status))
	return nil
}

func runTasksDelete(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return usage("agentdesk tasks delete <task_id>")
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tasks.Get(id)
	if err != nil {
		return err
	}
	if cmd.Bool("worktree") && t.Agent != "" {
		if err := a.removeWorktree(t); err != nil {
			return err
		}
	}
	if err := a.tasks.Delete(id); err != nil {
		return err
	}
	if err := a.artifacts.Remove(id); err != nil {
		a.logger.Warn("remove attempt artifacts", "task", id, "error", err)
	}
	a.writef("Deleted %s\n", id)
	return nil
}

// removeWorktree removes the worktree holding t's branch, if there is one.
func (a *app) removeWorktree(t *task.Task) error {
	repo, err := a.repoDir()
	if err != nil {
		return err
	}
	wt, err := worktree.NewManagerFromWorkDir(repo)
	if err != nil {
		return err
	}
	path := wt.FindByBranch(worktree.BranchName(t.Agent, t.ID))
	if path == "" {
		return nil
	}
	if err := wt.Remove(path, true); err != nil {
		return err
	}
	a.writef("Removed worktree %s\n", path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
