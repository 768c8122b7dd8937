package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveSourceRepo returns the main repository for workDir. For a
// worktree it follows the .git file ("gitdir: <repo>/.git/worktrees/<name>").
func ResolveSourceRepo(workDir string) (string, error) {
	gitPath := filepath.Join(workDir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	if info.IsDir() {
		return workDir, nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", fmt.Errorf("reading .git file: %w", err)
	}
	gitdir, err := ParseGitDir(string(data))
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(workDir, gitdir)
	}
	repo, _, ok := strings.Cut(filepath.ToSlash(filepath.Clean(gitdir)), "/.git/worktrees/")
	if !ok {
		return "", fmt.Errorf("cannot parse gitdir: %q", gitdir)
	}
	return filepath.FromSlash(repo), nil
}

// ParseGitDir returns the path from .git file content "gitdir: <path>".
func ParseGitDir(content string) (string, error) {
	gitdir := strings.TrimSpace(content)
	if !strings.HasPrefix(gitdir, "gitdir: ") {
		return "", fmt.Errorf("invalid .git file format: %q", gitdir)
	}
	return strings.TrimPrefix(gitdir, "gitdir: "), nil
}
