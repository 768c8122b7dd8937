package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentdesk/internal/notify"
	"agentdesk/internal/task"
)

// ProactiveScan runs every scanner and creates a pending task for each new
// item. Items whose Source and ExternalRef match an existing task are
// skipped. One failing scanner does not stop the others.
func (o *Orchestrator) ProactiveScan(ctx context.Context) ([]*task.Task, error) {
	var created []*task.Task
	var errs []error
	for _, sc := range o.scanners {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		items, err := sc.Scan(ctx)
		if err != nil {
			o.logger.Warn("scanner failed", "scanner", sc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("scan %s: %w", sc.Name(), err))
			continue
		}
		for _, item := range items {
			if item.Source == "" {
				item.Source = sc.Name()
			}
			if item.ExternalRef != "" {
				existing, err := o.tasks.List(task.Filter{Source: item.Source, ExternalRef: item.ExternalRef})
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if len(existing) > 0 {
					continue
				}
			}
			if item.Goal == "" {
				item.Goal = item.Title
			}
			t, err := o.tasks.Create(item)
			if err != nil {
				errs = append(errs, fmt.Errorf("create task from %s: %w", sc.Name(), err))
				continue
			}
			o.logger.Info("scanned task created", "task", t.ID, "source", t.Source, "ref", t.ExternalRef)
			created = append(created, t)
		}
	}
	return created, errors.Join(errs...)
}

// Summary counts tasks by status.
type Summary struct {
	Total    int
	ByStatus map[task.Status]int
}

// String renders the counts in lifecycle order, skipping zeros.
func (s Summary) String() string {
	var parts []string
	for _, st := range task.AllStatuses() {
		if n := s.ByStatus[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		return "no tasks"
	}
	return fmt.Sprintf("%d tasks: %s", s.Total, strings.Join(parts, ", "))
}

// DailySummary counts tasks by status and sends a daily-summary
// notification.
func (o *Orchestrator) DailySummary(ctx context.Context) (Summary, error) {
	tasks, err := o.tasks.List(task.Filter{})
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Total: len(tasks), ByStatus: make(map[task.Status]int)}
	for _, t := range tasks {
		s.ByStatus[t.Status]++
	}
	data := make(map[string]string, len(s.ByStatus))
	for st, n := range s.ByStatus {
		data[st.String()] = fmt.Sprint(n)
	}
	o.notify(ctx, notify.Message{
		Type:    notify.TypeDailySummary,
		Title:   "Daily summary",
		Message: s.String(),
		Data:    data,
	})
	return s, nil
}
