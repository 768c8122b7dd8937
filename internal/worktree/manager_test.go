package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestRepo creates a temporary git repository with one commit on main.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
		}
	}
	run("init")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@example.com")
	run("checkout", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "test.txt"), []byte("test"), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	run("add", "test.txt")
	run("commit", "-m", "initial")
	return dir
}

func TestNewManager(t *testing.T) {
	srcRepo := setupTestRepo(t)
	m, err := NewManager(srcRepo)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.SrcRepo() != srcRepo {
		t.Errorf("SrcRepo() = %s, want %s", m.SrcRepo(), srcRepo)
	}
}

func TestNewManager_NotGitRepo(t *testing.T) {
	_, err := NewManager(t.TempDir())
	if err == nil {
		t.Fatal("expected error for non-git repo")
	}
	if !strings.Contains(err.Error(), "not a git repository") {
		t.Errorf("expected 'not a git repository' error, got %v", err)
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		agent, task, want string
	}{
		{"claude", "1234-abcd", "claude/1234-abcd"},
		{"my agent", "task#7", "my-agent/task-7"},
		{"", "..", "x/x"},
	}
	for _, tt := range tests {
		if got := BranchName(tt.agent, tt.task); got != tt.want {
			t.Errorf("BranchName(%q, %q) = %q, want %q", tt.agent, tt.task, got, tt.want)
		}
	}
}

func TestManager_DefaultBranch(t *testing.T) {
	m, err := NewManager(setupTestRepo(t))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.DefaultBranch(); got != "main" {
		t.Errorf("DefaultBranch() = %q, want main", got)
	}
}

func TestManager_CreateFindRemove(t *testing.T) {
	srcRepo := setupTestRepo(t)
	m, err := NewManager(srcRepo)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	branch := BranchName("claude", "t1")
	path := filepath.Join(t.TempDir(), "wt")

	if err := m.Create(path, branch, "main"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "test.txt")); err != nil {
		t.Errorf("worktree missing checked-out file: %v", err)
	}
	if got := m.FindByBranch(branch); got != path {
		t.Errorf("FindByBranch = %q, want %q", got, path)
	}
	if got := m.FindByBranch("main"); got != "" {
		t.Errorf("FindByBranch(main) = %q, want empty (main checkout excluded)", got)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(list))
	}

	src, err := ResolveSourceRepo(path)
	if err != nil {
		t.Fatalf("ResolveSourceRepo: %v", err)
	}
	if src != srcRepo {
		t.Errorf("ResolveSourceRepo = %q, want %q", src, srcRepo)
	}

	if err := m.Remove(path, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := m.FindByBranch(branch); got != "" {
		t.Errorf("FindByBranch after remove = %q", got)
	}

	// The branch survives removal; a second Create reuses it.
	path2 := filepath.Join(t.TempDir(), "wt2")
	if err := m.Create(path2, branch, "main"); err != nil {
		t.Fatalf("Create existing branch: %v", err)
	}
}

func TestManager_CreateSkipsRepoHooks(t *testing.T) {
	srcRepo := setupTestRepo(t)
	marker := filepath.Join(t.TempDir(), "hook-ran")
	hook := filepath.Join(srcRepo, ".git", "hooks", "post-checkout")
	if err := os.MkdirAll(filepath.Dir(hook), 0o755); err != nil {
		t.Fatalf("mkdir hooks: %v", err)
	}
	script := "#!/bin/sh\ntouch '" + marker + "'\nexit 1\n"
	if err := os.WriteFile(hook, []byte(script), 0o755); err != nil {
		t.Fatalf("write hook: %v", err)
	}
	m, err := NewManager(srcRepo)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Create(filepath.Join(t.TempDir(), "wt"), BranchName("claude", "hooks"), "main"); err != nil {
		t.Fatalf("Create with failing hook: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("post-checkout hook ran: stat err = %v", err)
	}
}

func TestManager_Remove_NonExistent(t *testing.T) {
	m, err := NewManager(setupTestRepo(t))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	missing := filepath.Join(t.TempDir(), "nope")
	if err := m.Remove(missing, true); err != nil {
		t.Errorf("idempotent Remove: %v", err)
	}
	if err := m.Remove(missing, false); err == nil {
		t.Error("expected error removing missing worktree")
	}
}

func TestParseList(t *testing.T) {
	out := "worktree /repo\nHEAD aaa\nbranch refs/heads/main\n\nworktree /wt\nHEAD bbb\nbranch refs/heads/claude/t1\n"
	got := parseList(out)
	if len(got) != 2 {
		t.Fatalf("parseList returned %d entries", len(got))
	}
	if got[1].Path != "/wt" || got[1].Branch != "claude/t1" || got[1].HEAD != "bbb" {
		t.Errorf("second entry = %+v", got[1])
	}
}

func TestParseGitDir(t *testing.T) {
	got, err := ParseGitDir("gitdir: /repo/.git/worktrees/wt\n")
	if err != nil || got != "/repo/.git/worktrees/wt" {
		t.Errorf("ParseGitDir = %q, %v", got, err)
	}
	if _, err := ParseGitDir("nonsense"); err == nil {
		t.Error("expected error for invalid format")
	}
}
