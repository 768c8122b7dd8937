package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentdesk/internal/ralph"
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

func TestStore_TaskDir_SanitizesID(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	got := store.TaskDir("../weird id")
	want := filepath.Join(dir, "..-weird-id")
	if got != want {
		t.Errorf("TaskDir: expected %q, got %q", want, got)
	}
	if store.BaseDir() != dir {
		t.Errorf("BaseDir: expected %q, got %q", dir, store.BaseDir())
	}
}

func TestStore_Load_MissingTask(t *testing.T) {
	store := NewStore(t.TempDir())

	got, err := store.Load("nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load nonexistent: expected nothing, got %+v", got)
	}
}

func TestStore_SaveLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	analysis := &task.FailureAnalysis{Reason: "config not found", Category: task.CategoryContext}
	for _, a := range []Attempt{
		{Number: 2, Success: true, Prompt: "second prompt", Output: "done", ReviewID: "12", Duration: 90 * time.Second},
		{Number: 1, Error: "config not found", Analysis: analysis, Prompt: "first prompt\n", Output: "config not found"},
	} {
		if err := store.Save("t1", a); err != nil {
			t.Fatalf("Save(%d): %v", a.Number, err)
		}
	}

	got, err := store.Load("t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}
	if got[0].Number != 1 || got[1].Number != 2 {
		t.Errorf("order: got %d, %d", got[0].Number, got[1].Number)
	}
	if got[0].Prompt != "first prompt" {
		t.Errorf("prompt not trimmed: %q", got[0].Prompt)
	}
	if got[0].Analysis == nil || got[0].Analysis.Category != task.CategoryContext {
		t.Errorf("analysis = %+v", got[0].Analysis)
	}
	if got[1].ReviewID != "12" || !got[1].Success || got[1].SavedAt.IsZero() {
		t.Errorf("second attempt = %+v", got[1])
	}
}

func TestStore_Load_IgnoresStrayEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	taskDir := store.TaskDir("t1")
	_ = os.MkdirAll(filepath.Join(taskDir, "attempt-x"), 0755)
	_ = os.MkdirAll(filepath.Join(taskDir, "notes"), 0755)
	_ = os.WriteFile(filepath.Join(taskDir, "attempt-3"), []byte("file, not dir"), 0644)

	got, err := store.Load("t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected stray entries to be skipped, got %+v", got)
	}
}

func TestStore_Remove(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Save("t1", Attempt{Number: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Remove("t1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(store.TaskDir("t1")); !os.IsNotExist(err) {
		t.Errorf("task dir still exists: %v", err)
	}
}

func TestAttempt_Summary(t *testing.T) {
	tests := []struct {
		name string
		a    Attempt
		want string
	}{
		{"success", Attempt{Success: true, Duration: 61500 * time.Millisecond}, "succeeded in 1m1s"},
		{"no analysis", Attempt{}, "failed"},
		{"analysis", Attempt{Analysis: &task.FailureAnalysis{Reason: "boom", Category: task.CategoryTechnical}}, "failed (technical): boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}

	long := Attempt{Analysis: &task.FailureAnalysis{Reason: strings.Repeat("x", 100)}}
	if got := long.Summary(); !strings.HasSuffix(got, "...") {
		t.Errorf("long reason not truncated: %q", got)
	}
}

func TestObserver_SavesAttempt(t *testing.T) {
	store := NewStore(t.TempDir())
	obs := NewObserver(store, nil)
	tk := &task.Task{ID: "t9"}

	obs.OnAttemptEnd(tk, ralph.AttemptRecord{
		Attempt:   1,
		Prompt:    "do the thing",
		SessionID: "s1",
		Result:    session.Result{Error: "error: build failed"},
		Analysis:  &task.FailureAnalysis{Reason: "build failed", Category: task.CategoryTechnical},
	})

	got, err := store.Load("t9")
	if err != nil || len(got) != 1 {
		t.Fatalf("Load = %+v, %v", got, err)
	}
	a := got[0]
	if a.SessionID != "s1" || a.Prompt != "do the thing" || a.Output != "error: build failed" {
		t.Errorf("saved attempt = %+v", a)
	}
}
