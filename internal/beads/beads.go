// Package beads imports open issues from a repository's bd tracker as
// pending tasks.
package beads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"agentdesk/internal/task"
)

// Bead represents an open bd issue.
type Bead struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	Labels      []string  `json:"labels"`
	CreatedAt   time.Time `json:"created_at"`
	IssueType   string    `json:"issue_type"` // "epic", "task", "bug", etc.
	ParentID    string    `json:"parent_id"`  // parent epic ID (from parent-child dependency)
}

// bdDependency mirrors a single dependency entry in bd list JSON output.
type bdDependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
}

// bdListEntry mirrors the JSON shape emitted by `bd list --json`.
type bdListEntry struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	Labels       []string       `json:"labels"`
	CreatedAt    time.Time      `json:"created_at"`
	IssueType    string         `json:"issue_type"`
	Dependencies []bdDependency `json:"dependencies"`
}

// Runner executes a bd command in dir and returns its stdout.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// Run executes bd with exec.CommandContext.
func Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "bd", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("bd %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("bd %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// Scanner lists a repository's beads and turns the actionable ones into
// tasks. It satisfies orchestrator.Scanner.
type Scanner struct {
	dir    string
	run    Runner
	logger *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithRunner replaces the bd runner (used in tests).
func WithRunner(r Runner) Option { return func(s *Scanner) { s.run = r } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(s *Scanner) { s.logger = logger } }

// NewScanner returns a scanner for the bd database in dir.
func NewScanner(dir string, opts ...Option) *Scanner {
	s := &Scanner{dir: dir, run: Run}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Name implements orchestrator.Scanner.
func (s *Scanner) Name() string { return SourceName }

// List runs `bd list --json` and returns open beads, excluding any with a
// pr:<n> label (those already have a review) and any marked needs-human.
func (s *Scanner) List(ctx context.Context) ([]Bead, error) {
	out, err := s.run(ctx, s.dir, "list", "--json", "--limit", "0")
	if err != nil {
		return nil, err
	}
	all, err := parseBeads(out)
	if err != nil {
		return nil, err
	}
	result := make([]Bead, 0, len(all))
	for _, b := range all {
		if hasPRLabel(b.Labels) || hasLabel(b.Labels, LabelNeedsHuman) {
			continue
		}
		result = append(result, b)
	}
	return SortHierarchically(result), nil
}

// Scan implements orchestrator.Scanner. Epics are skipped; their children
// follow in hierarchical order.
func (s *Scanner) Scan(ctx context.Context) ([]task.Task, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]task.Task, 0, len(list))
	for _, b := range list {
		if b.IssueType == IssueTypeEpic {
			continue
		}
		tasks = append(tasks, ToTask(b))
	}
	s.logger.Debug("beads scanned", "dir", s.dir, "beads", len(list), "tasks", len(tasks))
	return tasks, nil
}

var issueTypes = map[string]task.Type{
	"bug":      task.TypeBugfix,
	"feature":  task.TypeFeature,
	"task":     task.TypeFeature,
	"chore":    task.TypeRefactor,
	"docs":     task.TypeDocs,
	"test":     task.TypeTest,
	"design":   task.TypeDesign,
	"research": task.TypeAnalysis,
}

// ToTask converts a bead into a pending task. bd priorities run from 0
// (critical) to 4 (backlog).
func ToTask(b Bead) task.Task {
	typ, ok := issueTypes[b.IssueType]
	if !ok {
		typ = task.TypeFeature
	}
	var prio task.Priority
	switch {
	case b.Priority <= 0:
		prio = task.PriorityCritical
	case b.Priority == 1:
		prio = task.PriorityHigh
	case b.Priority == 2:
		prio = task.PriorityMedium
	default:
		prio = task.PriorityLow
	}
	goal := b.Title
	if d := strings.TrimSpace(b.Description); d != "" {
		goal += "\n\n" + d
	}
	return task.Task{
		Title:       b.Title,
		Description: b.Description,
		Type:        typ,
		Priority:    prio,
		Goal:        goal,
		Source:      SourceName,
		ExternalRef: b.ID,
	}
}

// parseBeads decodes JSON output from bd list, dropping closed beads.
func parseBeads(data []byte) ([]Bead, error) {
	var entries []bdListEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode bd list: %w", err)
	}

	result := make([]Bead, 0, len(entries))
	for _, e := range entries {
		if e.Status == StatusClosed {
			continue
		}
		result = append(result, Bead{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Status:      e.Status,
			Priority:    e.Priority,
			Labels:      e.Labels,
			CreatedAt:   e.CreatedAt,
			IssueType:   e.IssueType,
			ParentID:    extractParentID(e.Dependencies),
		})
	}
	return result, nil
}

// extractParentID returns the parent epic ID from a parent-child dependency,
// or "" if none exists.
func extractParentID(deps []bdDependency) string {
	for _, d := range deps {
		if d.Type == DepTypeParentChild {
			return d.DependsOnID
		}
	}
	return ""
}

// SortHierarchically reorders beads so that epics appear first, each
// immediately followed by their children, then standalone beads. Each group
// is ordered by priority, then ID.
func SortHierarchically(beads []Bead) []Bead {
	if len(beads) <= 1 {
		return beads
	}

	childrenOf := make(map[string][]Bead)
	var epics []Bead
	var standalone []Bead

	for _, b := range beads {
		switch {
		case b.IssueType == IssueTypeEpic && b.ParentID == "":
			epics = append(epics, b)
		case b.ParentID != "":
			childrenOf[b.ParentID] = append(childrenOf[b.ParentID], b)
		default:
			standalone = append(standalone, b)
		}
	}

	byPriority := func(list []Bead) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority < list[j].Priority
			}
			return list[i].ID < list[j].ID
		})
	}
	byPriority(epics)

	result := make([]Bead, 0, len(beads))
	for _, epic := range epics {
		result = append(result, epic)
		children := childrenOf[epic.ID]
		byPriority(children)
		result = append(result, children...)
		delete(childrenOf, epic.ID)
	}

	// Children whose epic is closed or filtered out count as standalone.
	for _, orphans := range childrenOf {
		standalone = append(standalone, orphans...)
	}
	byPriority(standalone)

	return append(result, standalone...)
}

func hasPRLabel(labels []string) bool {
	for _, l := range labels {
		if strings.HasPrefix(l, LabelPRPrefix) {
			return true
		}
	}
	return false
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
