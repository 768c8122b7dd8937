package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFiles_ReturnsWorkerRules(t *testing.T) {
	files := Files()
	data, ok := files["worker.md"]
	if !ok {
		t.Fatalf("missing worker.md, got %d files", len(files))
	}
	for _, want := range []string{"AGENTDESK_DONE", ".agentdesk/notes/", "<agent>/<task-id>"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("worker.md missing expected content %q", want)
		}
	}
}

// linkedWorktree builds a fake linked worktree: a checkout whose .git file
// points at a per-worktree gitdir, which names the shared dir via commondir.
func linkedWorktree(t *testing.T, gitdirLine string) (wt, common string) {
	t.Helper()
	base := t.TempDir()
	wt = filepath.Join(base, "wt")
	common = filepath.Join(base, "repo", ".git")
	perWT := filepath.Join(common, "worktrees", "wt")
	for _, d := range []string{wt, perWT} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(perWT, "commondir"), []byte("../..\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if gitdirLine == "" {
		gitdirLine = "gitdir: " + perWT
	}
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte(gitdirLine+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return wt, common
}

func readExclude(t *testing.T, gitDir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(gitDir, "info", "exclude"))
	if err != nil {
		t.Fatalf("exclude file not found: %v", err)
	}
	return string(data)
}

func TestInjectWorktree_WritesRulesNotesAndExclude(t *testing.T) {
	wt, common := linkedWorktree(t, "")

	if err := InjectWorktree(wt); err != nil {
		t.Fatalf("InjectWorktree: %v", err)
	}

	for name, want := range Files() {
		got, err := os.ReadFile(filepath.Join(wt, Dir, name))
		if err != nil {
			t.Errorf("rule file %s: %v", name, err)
			continue
		}
		if string(got) != string(want) {
			t.Errorf("rule file %s content mismatch", name)
		}
	}
	if info, err := os.Stat(filepath.Join(wt, Dir, "notes")); err != nil || !info.IsDir() {
		t.Errorf("notes dir missing: %v", err)
	}
	// The shared dir, not the per-worktree gitdir, holds info/exclude.
	if got := readExclude(t, common); !strings.Contains(got, ".agentdesk/") {
		t.Errorf("exclude = %q", got)
	}
}

func TestInjectWorktree_IdempotentAndPreservesExclude(t *testing.T) {
	wt, common := linkedWorktree(t, "")
	if err := os.MkdirAll(filepath.Join(common, "info"), 0755); err != nil {
		t.Fatal(err)
	}
	// No trailing newline: the new entry must still land on its own line.
	if err := os.WriteFile(filepath.Join(common, "info", "exclude"), []byte("*.log"), 0644); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := InjectWorktree(wt); err != nil {
			t.Fatalf("inject #%d: %v", i+1, err)
		}
	}

	got := readExclude(t, common)
	if got != "*.log\n.agentdesk/\n" {
		t.Errorf("exclude = %q", got)
	}
}

func TestInjectWorktree_RegularRepo(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := InjectWorktree(repo); err != nil {
		t.Fatalf("InjectWorktree: %v", err)
	}
	if got := readExclude(t, filepath.Join(repo, ".git")); !strings.Contains(got, ".agentdesk/") {
		t.Errorf("exclude = %q", got)
	}
}

func TestInjectWorktree_RelativeGitDirWithoutCommonDir(t *testing.T) {
	base := t.TempDir()
	wt := filepath.Join(base, "wt")
	gitDir := filepath.Join(base, "actual-gitdir")
	for _, d := range []string{wt, gitDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: ../actual-gitdir\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := InjectWorktree(wt); err != nil {
		t.Fatalf("InjectWorktree: %v", err)
	}
	readExclude(t, gitDir)
}

func TestInjectWorktree_Errors(t *testing.T) {
	if err := InjectWorktree(t.TempDir()); err == nil {
		t.Error("expected error without .git")
	}
	wt, _ := linkedWorktree(t, "not a gitdir line")
	if err := InjectWorktree(wt); err == nil {
		t.Error("expected error for malformed .git file")
	}
}
