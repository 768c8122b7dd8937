// Package rules provides the embedded worker instructions that are written
// into every task worktree.
//
// The canonical files are embedded at compile time and exposed via [Files];
// [InjectWorktree] writes them under .agentdesk/ in a worktree.
package rules

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed files/*.md
var ruleFS embed.FS

// Dir is the workspace directory holding injected files.
const Dir = ".agentdesk"

// excludeEntries are the paths added to info/exclude so injected files are
// invisible to git status, diff, etc.
var excludeEntries = []string{Dir + "/"}

// Files returns the embedded rule files as a map of filename to content.
func Files() map[string][]byte {
	sub, err := fs.Sub(ruleFS, "files")
	if err != nil {
		return nil
	}
	entries, err := fs.ReadDir(sub, ".")
	if err != nil {
		return nil
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := fs.ReadFile(sub, e.Name())
		if err != nil {
			continue
		}
		out[e.Name()] = data
	}
	return out
}

// InjectWorktree writes the rule files and a notes directory into
// worktreePath/.agentdesk, then adds .agentdesk/ to the repo's git exclude
// file.
//
// The operation is idempotent: files with matching content are left
// untouched, and duplicate exclude entries are not added.
func InjectWorktree(worktreePath string) error {
	dir := filepath.Join(worktreePath, Dir)
	if err := os.MkdirAll(filepath.Join(dir, "notes"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", Dir, err)
	}
	for name, content := range Files() {
		dst := filepath.Join(dir, name)
		if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, content) {
			continue
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("write rule %s: %w", name, err)
		}
	}

	commonDir, err := resolveGitCommonDir(worktreePath)
	if err != nil {
		return fmt.Errorf("resolve git common dir: %w", err)
	}
	if err := ensureExcludeEntries(commonDir, excludeEntries); err != nil {
		return fmt.Errorf("update exclude: %w", err)
	}
	return nil
}

// resolveGitCommonDir returns the directory git reads info/exclude from.
// For a regular repo that is .git itself. For a worktree, .git is a file
// pointing at a per-worktree gitdir whose "commondir" file names the shared
// directory.
func resolveGitCommonDir(worktreePath string) (string, error) {
	dotGit := filepath.Join(worktreePath, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return dotGit, nil
	}

	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	gitDir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", fmt.Errorf(".git file has unexpected format: %s", line)
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreePath, gitDir)
	}
	gitDir = filepath.Clean(gitDir)

	cdData, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if err != nil {
		return gitDir, nil
	}
	common := strings.TrimSpace(string(cdData))
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitDir, common)
	}
	return filepath.Clean(common), nil
}

// ensureExcludeEntries appends entries to <gitDir>/info/exclude, skipping
// any that are already present.
func ensureExcludeEntries(gitDir string, entries []string) (err error) {
	infoDir := filepath.Join(gitDir, "info")
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		return err
	}

	excludePath := filepath.Join(infoDir, "exclude")
	existing, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	lines := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		lines[strings.TrimSpace(line)] = true
	}
	var toAdd []string
	for _, entry := range entries {
		if !lines[entry] {
			toAdd = append(toAdd, entry)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}

	prefix := ""
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		prefix = "\n"
	}

	f, err := os.OpenFile(excludePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = f.WriteString(prefix + strings.Join(toAdd, "\n") + "\n")
	return err
}
