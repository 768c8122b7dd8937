// Package artifact keeps the prompt and outcome of every attempt so a
// failed task can be inspected after the loop has moved on.
package artifact

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"agentdesk/internal/ralph"
	"agentdesk/internal/task"
)

// Files inside an attempt directory.
const (
	PromptFile = "prompt.md"
	OutputFile = "output.log"
	RecordFile = "attempt.json"
)

// Store reads and writes attempt artifacts.
// Layout: <base>/<task-id>/attempt-<n>/prompt.md, output.log, attempt.json
type Store struct {
	baseDir string
}

// Attempt is what was kept for one attempt.
type Attempt struct {
	Number    int                   `json:"attempt"`
	SessionID string                `json:"session_id,omitempty"`
	Success   bool                  `json:"success"`
	Error     string                `json:"error,omitempty"`
	ReviewID  string                `json:"review_id,omitempty"`
	Analysis  *task.FailureAnalysis `json:"analysis,omitempty"`
	Duration  time.Duration         `json:"duration"`
	SavedAt   time.Time             `json:"saved_at"`

	Prompt string `json:"-"`
	Output string `json:"-"`
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the root directory.
func (s *Store) BaseDir() string { return s.baseDir }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TaskDir returns the directory holding a task's attempts.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.baseDir, unsafeChars.ReplaceAllString(taskID, "-"))
}

func (s *Store) attemptDir(taskID string, n int) string {
	return filepath.Join(s.TaskDir(taskID), "attempt-"+strconv.Itoa(n))
}

// Save writes one attempt, replacing any earlier copy of it.
func (s *Store) Save(taskID string, a Attempt) error {
	dir := s.attemptDir(taskID, a.Number)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create attempt dir: %w", err)
	}
	if a.SavedAt.IsZero() {
		a.SavedAt = time.Now().UTC()
	}
	rec, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	files := map[string][]byte{
		PromptFile: []byte(a.Prompt),
		OutputFile: []byte(a.Output),
		RecordFile: rec,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// Load returns a task's attempts in order. A task with nothing saved yields
// no attempts and no error.
func (s *Store) Load(taskID string) ([]Attempt, error) {
	entries, err := os.ReadDir(s.TaskDir(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Attempt
	for _, e := range entries {
		n, ok := strings.CutPrefix(e.Name(), "attempt-")
		if !e.IsDir() || !ok {
			continue
		}
		num, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		dir := filepath.Join(s.TaskDir(taskID), e.Name())
		var a Attempt
		if data, err := os.ReadFile(filepath.Join(dir, RecordFile)); err == nil {
			if err := json.Unmarshal(data, &a); err != nil {
				return nil, fmt.Errorf("decode %s: %w", e.Name(), err)
			}
		}
		a.Number = num
		a.Prompt = readFile(filepath.Join(dir, PromptFile))
		a.Output = readFile(filepath.Join(dir, OutputFile))
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// Remove deletes everything kept for a task.
func (s *Store) Remove(taskID string) error {
	return os.RemoveAll(s.TaskDir(taskID))
}

func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Summary returns a short label for display (e.g. "succeeded in 2m0s" or
// "failed (context): missing file").
func (a Attempt) Summary() string {
	if a.Success {
		return "succeeded in " + a.Duration.Truncate(time.Second).String()
	}
	if a.Analysis == nil {
		return "failed"
	}
	reason := a.Analysis.Reason
	if len(reason) > 60 {
		reason = reason[:57] + "..."
	}
	return fmt.Sprintf("failed (%s): %s", a.Analysis.Category, reason)
}

// Observer saves every finished attempt. Write errors are logged, never
// surfaced to the loop.
type Observer struct {
	ralph.NoopObserver
	store  *Store
	logger *slog.Logger
}

var _ ralph.Observer = (*Observer)(nil)

// NewObserver returns an Observer writing to store.
func NewObserver(store *Store, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Observer{store: store, logger: logger}
}

func (o *Observer) OnAttemptEnd(t *task.Task, rec ralph.AttemptRecord) {
	output := rec.Result.Output
	if output == "" {
		output = rec.Result.Error
	}
	err := o.store.Save(t.ID, Attempt{
		Number:    rec.Attempt,
		SessionID: rec.SessionID,
		Success:   rec.Result.Success,
		Error:     rec.Result.Error,
		ReviewID:  rec.Result.ReviewID,
		Analysis:  rec.Analysis,
		Duration:  rec.Duration,
		Prompt:    rec.Prompt,
		Output:    output,
	})
	if err != nil {
		o.logger.Warn("save attempt artifacts", "task", t.ID, "attempt", rec.Attempt, "error", err)
	}
}
