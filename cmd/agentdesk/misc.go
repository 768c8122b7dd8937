package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"agentdesk/internal/memory"
	"agentdesk/internal/orchestrator"
	"agentdesk/internal/tmux"
)

func newMemoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect the outcome memory",
		Commands: []*cli.Command{
			{
				Name:  "query",
				Usage: "List memory entries, most relevant first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "exact key"},
					&cli.StringFlag{Name: "type", Usage: "success, failure, context, decision or preference"},
					&cli.StringSliceFlag{Name: "tag", Usage: "required tag (repeatable)"},
					&cli.StringFlag{Name: "agent", Usage: "agent id"},
					&cli.StringFlag{Name: "task", Usage: "task id"},
					&cli.FloatFlag{Name: "min", Usage: "minimum relevance"},
					&cli.IntFlag{Name: "limit", Usage: "maximum entries", Value: 20},
				},
				Action: runMemoryQuery,
			},
			{
				Name:   "stats",
				Usage:  "Show recorded outcomes per agent",
				Action: runMemoryStats,
			},
		},
		DefaultCommand: "query",
	}
}

func runMemoryQuery(_ context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.memory.Query(memory.Query{
		Key:          cmd.String("key"),
		Type:         memory.Type(cmd.String("type")),
		Tags:         cmd.StringSlice("tag"),
		Agent:        cmd.String("agent"),
		TaskID:       cmd.String("task"),
		MinRelevance: cmd.Float("min"),
		Limit:        cmd.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("query memory: %w", err)
	}
	if len(entries) == 0 {
		a.writef("No entries found.\n")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tREL\tTYPE\tAGENT\tTAGS\tSUMMARY")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\t%s\n",
			e.Meta.Timestamp.Local().Format("01-02 15:04"),
			e.Meta.Relevance,
			e.Type,
			orDash(e.Meta.Agent),
			strings.Join(e.Tags, ","),
			truncate(memory.Summary(e), 80),
		)
	}
	return w.Flush()
}

func runMemoryStats(_ context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.memory.AgentStats()
	if err != nil {
		return fmt.Errorf("read memory: %w", err)
	}
	if len(stats) == 0 {
		a.writef("No outcomes recorded.\n")
		return nil
	}
	agents := slices.Sorted(maps.Keys(stats))
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSUCCESS\tFAILURE\tRATE")
	for _, id := range agents {
		st := stats[id]
		fmt.Fprintf(w, "%s\t%d\t%d\t%.0f%%\n", id, st.Successes, st.Failures, st.Rate()*100)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	n, err := a.memory.Len()
	if err != nil {
		return fmt.Errorf("read memory: %w", err)
	}
	a.writef("%s\n", a.styles.Muted.Render(fmt.Sprintf("%d entries in memory", n)))
	return nil
}

func newSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Type a line into a task's tmux session",
		ArgsUsage: "<task_id> <text>",
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 2 {
				return usage("agentdesk send <task_id> <text>")
			}
			id := cmd.Args().First()
			text := strings.Join(cmd.Args().Tail(), " ")
			name := tmux.SessionName(id)
			if err := tmux.SendKeys(name, text); err != nil {
				return fmt.Errorf("send to %s: %w", name, err)
			}
			out := cmd.Root().Writer
			if out == nil {
				out = os.Stdout
			}
			fmt.Fprintf(out, "sent to %s\n", name)
			return nil
		},
	}
}

func newSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Count tasks by status and send the daily summary notification",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			orch := orchestrator.New(a.tasks, nil,
				orchestrator.WithNotifier(a.notifier()),
				orchestrator.WithLogger(a.logger))
			s, err := orch.DailySummary(ctx)
			if err != nil {
				return err
			}
			a.writef("%s %s\n", a.styles.Title.Render("Summary"), s)
			return nil
		},
	}
}

func newScanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Import pending tasks from the configured task sources",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "beads", Usage: "scan the repo's bd issues even if not enabled in config"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Bool("beads") {
				a.cfg.Scan.Beads = true
			}
			repo, err := a.repoDir()
			if err != nil {
				return err
			}
			scanners := a.scanners(repo)
			if len(scanners) == 0 {
				return usage("no task sources enabled; set scan.beads in %s or pass --beads", cmd.String("config"))
			}
			orch := orchestrator.New(a.tasks, nil,
				orchestrator.WithScanners(scanners...),
				orchestrator.WithLogger(a.logger))
			created, scanErr := orch.ProactiveScan(ctx)
			for _, t := range created {
				a.writef("%s %s %s\n", a.styles.TaskID.Render(shortID(t.ID)), a.styles.Muted.Render(t.ExternalRef), t.Title)
			}
			a.writef("%d new tasks\n", len(created))
			return scanErr
		},
	}
}
