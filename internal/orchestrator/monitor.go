package orchestrator

import (
	"context"

	"agentdesk/internal/monitor"
	"agentdesk/internal/notify"
	"agentdesk/internal/review"
	"agentdesk/internal/task"
	"agentdesk/internal/worktree"
)

// HandleSessionHealth is the AgentWatcher callback. A session that died
// without its supervisor noticing needs a human; the loop still reports
// the task's outcome on its own.
func (o *Orchestrator) HandleSessionHealth(ctx context.Context, h monitor.Health) {
	s := h.Session
	if h.Alive {
		o.logger.Info("session recovered", "session", s.ID, "task", s.TaskID)
		return
	}
	title := s.TaskID
	if t, err := o.tasks.Get(s.TaskID); err == nil {
		title = t.Title
	}
	o.notify(ctx, notify.Message{
		Type:    notify.TypeHumanNeeded,
		Title:   title,
		Message: "Worker session " + s.ID + " is no longer alive.",
		Data: map[string]string{
			"task":    s.TaskID,
			"session": s.ID,
			"agent":   s.Agent,
		},
		Priority: notify.PriorityHigh,
	})
}

// ReviewTargets lists tasks waiting in review, for the ReviewChecker.
func (o *Orchestrator) ReviewTargets() []monitor.Target {
	tasks, err := o.tasks.List(task.Filter{Statuses: []task.Status{task.StatusReviewing}})
	if err != nil {
		o.logger.Warn("list reviewing tasks", "error", err)
		return nil
	}
	targets := make([]monitor.Target, 0, len(tasks))
	for _, t := range tasks {
		tg := monitor.Target{TaskID: t.ID}
		if t.Agent != "" {
			tg.Branch = worktree.BranchName(t.Agent, t.ID)
		}
		if t.Result != nil {
			tg.ReviewID = t.Result.ReviewID
		}
		targets = append(targets, tg)
	}
	return targets
}

// HandleReviewUpdate is the ReviewChecker callback. A merged review
// approves the task and a review closed without merging rejects it.
// Failing checks ask for a human.
func (o *Orchestrator) HandleReviewUpdate(ctx context.Context, u monitor.ReviewUpdate) {
	log := o.logger.With("task", u.TaskID, "review", u.ReviewID)
	t, err := o.tasks.Get(u.TaskID)
	if err != nil {
		log.Warn("review update for unknown task", "error", err)
		return
	}
	if t.Status != task.StatusReviewing {
		return
	}
	data := map[string]string{"task": t.ID, "review": u.ReviewID}

	switch {
	case u.Status.Merged():
		if t.Result == nil || t.Result.ReviewID == "" {
			r := task.Result{ReviewID: u.ReviewID}
			if t.Result != nil {
				r.Output = t.Result.Output
			}
			o.update(log, t.ID, task.Patch{Result: &r})
		}
		o.transition(log, t.ID, task.EventApprove)
		o.notify(ctx, notify.Message{
			Type:    notify.TypeTaskComplete,
			Title:   t.Title,
			Message: "Review " + u.ReviewID + " merged.",
			Data:    data,
		})
	case u.Status.Closed():
		o.update(log, t.ID, task.Patch{Analysis: &task.FailureAnalysis{
			Reason:   "review " + u.ReviewID + " closed without merging",
			Category: task.CategoryDirection,
		}})
		o.transition(log, t.ID, task.EventReject)
		o.notify(ctx, notify.Message{
			Type:     notify.TypeTaskFailed,
			Title:    t.Title,
			Message:  "Review " + u.ReviewID + " was closed without merging.",
			Data:     data,
			Priority: notify.PriorityHigh,
		})
	case u.Status.ChecksState() == review.ChecksFailing:
		o.notify(ctx, notify.Message{
			Type:     notify.TypeHumanNeeded,
			Title:    t.Title,
			Message:  "Checks are failing on review " + u.ReviewID + ".",
			Data:     data,
			Priority: notify.PriorityHigh,
		})
	default:
		log.Info("review status", "state", u.Status.State, "decision", u.Status.ReviewDecision,
			"checks", string(u.Status.ChecksState()))
	}
}
