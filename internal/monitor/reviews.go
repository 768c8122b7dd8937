package monitor

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"agentdesk/internal/review"
)

// DefaultReviewInterval is how often ReviewChecker polls.
const DefaultReviewInterval = 2 * time.Minute

// Reviews queries the code-review host. *review.Client implements it.
type Reviews interface {
	FindOpen(ctx context.Context, branch string) (*review.PR, error)
	Status(ctx context.Context, number int) (*review.Status, error)
}

// Target is a task waiting on review. ReviewID may be empty when the
// review has not been found yet.
type Target struct {
	TaskID   string
	Branch   string
	ReviewID string
}

// ReviewUpdate reports a changed review state for a task.
type ReviewUpdate struct {
	TaskID   string
	Branch   string
	ReviewID string
	Status   review.Status
}

// ReviewChecker polls the reviews of tasks in review and reports changes
// of state, decision or checks.
type ReviewChecker struct {
	poller
	reviews  Reviews
	targets  func() []Target
	onUpdate func(ReviewUpdate)
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]string // task id -> review number
	last  map[string]string // task id -> state fingerprint
}

// ReviewOption configures a ReviewChecker.
type ReviewOption func(*ReviewChecker)

// WithReviewInterval sets the poll interval.
func WithReviewInterval(d time.Duration) ReviewOption {
	return func(c *ReviewChecker) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithReviewLogger sets the logger.
func WithReviewLogger(logger *slog.Logger) ReviewOption {
	return func(c *ReviewChecker) { c.logger = logger }
}

// NewReviewChecker returns a checker polling the reviews of targets().
func NewReviewChecker(reviews Reviews, targets func() []Target, onUpdate func(ReviewUpdate), opts ...ReviewOption) *ReviewChecker {
	c := &ReviewChecker{
		poller:   poller{interval: DefaultReviewInterval},
		reviews:  reviews,
		targets:  targets,
		onUpdate: onUpdate,
		known:    make(map[string]string),
		last:     make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Start polls in the background until Stop or ctx is cancelled.
func (c *ReviewChecker) Start(ctx context.Context) { c.start(ctx, c.Check) }

// Stop halts polling and waits for an in-flight check.
func (c *ReviewChecker) Stop() { c.stop() }

// Check runs one poll. Query errors count as no change.
func (c *ReviewChecker) Check(ctx context.Context) {
	targets := c.targets()
	live := make(map[string]bool, len(targets))
	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		live[t.TaskID] = true
		if u, ok := c.check(ctx, t); ok && c.onUpdate != nil {
			c.logger.Info("review changed", "task", u.TaskID, "review", u.ReviewID, "state", u.Status.State)
			c.onUpdate(u)
		}
	}

	c.mu.Lock()
	for id := range c.last {
		if !live[id] {
			delete(c.last, id)
			delete(c.known, id)
		}
	}
	c.mu.Unlock()
}

func (c *ReviewChecker) check(ctx context.Context, t Target) (ReviewUpdate, bool) {
	id := c.reviewID(ctx, t)
	if id == "" {
		return ReviewUpdate{}, false
	}
	number, err := strconv.Atoi(id)
	if err != nil {
		c.logger.Debug("invalid review id", "task", t.TaskID, "review", id)
		return ReviewUpdate{}, false
	}
	st, err := c.reviews.Status(ctx, number)
	if err != nil || st == nil {
		c.logger.Debug("review status", "task", t.TaskID, "review", id, "error", err)
		return ReviewUpdate{}, false
	}

	fp := st.State + "|" + st.ReviewDecision + "|" + string(st.ChecksState())
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last[t.TaskID] == fp {
		return ReviewUpdate{}, false
	}
	c.last[t.TaskID] = fp
	return ReviewUpdate{TaskID: t.TaskID, Branch: t.Branch, ReviewID: id, Status: *st}, true
}

func (c *ReviewChecker) reviewID(ctx context.Context, t Target) string {
	if t.ReviewID != "" {
		return t.ReviewID
	}
	c.mu.Lock()
	id := c.known[t.TaskID]
	c.mu.Unlock()
	if id != "" || t.Branch == "" {
		return id
	}
	pr, err := c.reviews.FindOpen(ctx, t.Branch)
	if err != nil || pr == nil {
		if err != nil {
			c.logger.Debug("find review", "task", t.TaskID, "branch", t.Branch, "error", err)
		}
		return ""
	}
	c.mu.Lock()
	c.known[t.TaskID] = pr.ID()
	c.mu.Unlock()
	return pr.ID()
}
