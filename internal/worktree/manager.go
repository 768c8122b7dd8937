// Package worktree creates the isolated git checkouts workers run in.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Manager manages git worktrees for a source repository.
type Manager struct {
	srcRepo string
}

// NewManager creates a worktree manager for the main repository srcRepo.
func NewManager(srcRepo string) (*Manager, error) {
	info, err := os.Stat(filepath.Join(srcRepo, ".git"))
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("srcRepo must be the main repository, not a worktree")
	}
	return &Manager{srcRepo: srcRepo}, nil
}

// NewManagerFromWorkDir resolves the main repository behind workDir (which
// may itself be a worktree) and returns a manager for it.
func NewManagerFromWorkDir(workDir string) (*Manager, error) {
	src, err := ResolveSourceRepo(workDir)
	if err != nil {
		return nil, err
	}
	return NewManager(src)
}

// SrcRepo returns the path to the source repository.
func (m *Manager) SrcRepo() string {
	return m.srcRepo
}

var unsafeRef = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// BranchName returns the session branch for agent working on taskID,
// "<agent>/<taskID>".
func BranchName(agent, taskID string) string {
	clean := func(s string) string {
		s = strings.Trim(unsafeRef.ReplaceAllString(s, "-"), "-.")
		if s == "" {
			return "x"
		}
		return s
	}
	return clean(agent) + "/" + clean(taskID)
}

// DefaultBranch returns the branch new worktrees fork from: origin's HEAD
// when a remote is configured, else the current branch, else "main".
func (m *Manager) DefaultBranch() string {
	out, err := exec.Command("git", "-C", m.srcRepo, "symbolic-ref", "--short", "refs/remotes/origin/HEAD").Output()
	if err == nil {
		if ref := strings.TrimSpace(string(out)); ref != "" {
			return strings.TrimPrefix(ref, "origin/")
		}
	}
	if branch, err := getCurrentBranch(m.srcRepo); err == nil && branch != "" && branch != "HEAD" {
		return branch
	}
	return "main"
}

// Create adds a worktree at path with branch checked out. A missing branch
// is created from baseBranch. Repository hooks are disabled for the add.
func (m *Manager) Create(path, branchName, baseBranch string) error {
	args, done, err := m.hooklessGit()
	if err != nil {
		return err
	}
	defer done()

	if err := exec.Command("git", "-C", m.srcRepo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branchName).Run(); err != nil {
		args = append(args, "worktree", "add", "-b", branchName, path, baseBranch)
	} else {
		args = append(args, "worktree", "add", path, branchName)
	}
	if err := runGit(args...); err != nil {
		return fmt.Errorf("creating worktree: %w", err)
	}
	return nil
}

// hooklessGit returns leading git arguments for the source repository with
// core.hooksPath set to a fresh empty directory. done removes the directory.
func (m *Manager) hooklessGit() (args []string, done func(), err error) {
	empty, err := os.MkdirTemp("", "agentdesk-nohooks")
	if err != nil {
		return nil, nil, fmt.Errorf("empty hooks dir: %w", err)
	}
	args = []string{"-C", m.srcRepo, "-c", "core.hooksPath=" + empty}
	return args, func() { _ = os.RemoveAll(empty) }, nil
}

// Remove removes the worktree at path.
// If idempotent is true, missing worktrees are treated as success.
func (m *Manager) Remove(path string, idempotent bool) error {
	err := runGit("-C", m.srcRepo, "worktree", "remove", path, "--force")
	if err == nil {
		return nil
	}
	if idempotent {
		msg := err.Error()
		if strings.Contains(msg, "not a working tree") || strings.Contains(msg, "No such file") || strings.Contains(msg, "not found") {
			return nil
		}
	}
	return fmt.Errorf("removing worktree %s: %w", path, err)
}

// Info is one entry from `git worktree list --porcelain`.
type Info struct {
	Path   string
	HEAD   string
	Branch string
}

// List returns every worktree of the repository, the main checkout first.
func (m *Manager) List() ([]Info, error) {
	cmd := exec.Command("git", "-C", m.srcRepo, "worktree", "list", "--porcelain")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}
	return parseList(string(out)), nil
}

// parseList parses porcelain output: blocks separated by blank lines, each
// with "worktree <path>", "HEAD <sha>" and "branch refs/heads/<name>".
func parseList(out string) []Info {
	var (
		list    []Info
		current Info
	)
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current.Path != "" {
				list = append(list, current)
			}
			current = Info{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "" && current.Path != "":
			list = append(list, current)
			current = Info{}
		}
	}
	if current.Path != "" {
		list = append(list, current)
	}
	return list
}

// FindByBranch returns the path of the worktree (other than the main
// checkout) that has branchName checked out, or "".
func (m *Manager) FindByBranch(branchName string) string {
	list, err := m.List()
	if err != nil {
		return ""
	}
	for _, wt := range list {
		if wt.Branch == branchName && wt.Path != m.srcRepo {
			return wt.Path
		}
	}
	return ""
}

func runGit(args ...string) error {
	cmd := exec.Command("git", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}

func getCurrentBranch(workDir string) (string, error) {
	out, err := exec.Command("git", "-C", workDir, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
