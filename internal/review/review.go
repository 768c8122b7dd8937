// Package review talks to the code-review system through the gh CLI.
package review

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"agentdesk/internal/jsonutil"
)

// Runner executes gh with args in dir and returns stdout.
type Runner func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error)

// RunGH is the default Runner.
func RunGH(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("gh %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("gh %s: %w", args[0], err)
	}
	return out.Bytes(), nil
}

// PR is the subset of pull request metadata the controller needs.
type PR struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	HeadRefName string     `json:"headRefName"`
	URL         string     `json:"url"`
	MergedAt    *time.Time `json:"mergedAt"`
}

// ID returns the review id used in task results.
func (p PR) ID() string { return strconv.Itoa(p.Number) }

// Check is one status check on a PR.
type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	State      string `json:"state"` // set by commit status contexts instead of Status/Conclusion
}

// Status is the review state of one PR.
type Status struct {
	Number         int     `json:"number"`
	State          string  `json:"state"` // OPEN, CLOSED, MERGED
	ReviewDecision string  `json:"reviewDecision"`
	Checks         []Check `json:"statusCheckRollup"`
}

// ChecksState is the rolled-up outcome of all checks.
type ChecksState string

const (
	ChecksNone    ChecksState = "none"
	ChecksPending ChecksState = "pending"
	ChecksPassing ChecksState = "passing"
	ChecksFailing ChecksState = "failing"
)

// ChecksState rolls the checks up: any failure fails, any unfinished check
// is pending, otherwise passing.
func (s Status) ChecksState() ChecksState {
	if len(s.Checks) == 0 {
		return ChecksNone
	}
	pending := false
	for _, c := range s.Checks {
		switch strings.ToUpper(c.Conclusion + c.State) {
		case "FAILURE", "ERROR", "CANCELLED", "TIMED_OUT", "ACTION_REQUIRED":
			return ChecksFailing
		case "SUCCESS", "NEUTRAL", "SKIPPED":
		default:
			pending = true
		}
	}
	if pending {
		return ChecksPending
	}
	return ChecksPassing
}

// Merged reports whether the PR has been merged.
func (s Status) Merged() bool { return s.State == "MERGED" }

// Closed reports whether the PR was closed without merging.
func (s Status) Closed() bool { return s.State == "CLOSED" }

const defaultCacheTTL = 30 * time.Second

// Options configure a Client.
type Options struct {
	// Dir is the repository checkout gh runs in.
	Dir string
	// Token is passed as GH_TOKEN. Without a token the client is disabled
	// unless UseGHAuth is set.
	Token     string
	UseGHAuth bool
	Runner    Runner
	CacheTTL  time.Duration
}

type cacheEntry struct {
	pr        *PR
	timestamp time.Time
}

// Client queries and merges PRs. A disabled client answers every query with
// "nothing found" and never runs gh.
type Client struct {
	dir     string
	env     []string
	enabled bool
	run     Runner
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry // branch -> open PR lookup
}

// New returns a client for opts.
func New(opts Options) *Client {
	c := &Client{
		dir:     opts.Dir,
		enabled: opts.Token != "" || opts.UseGHAuth,
		run:     opts.Runner,
		ttl:     opts.CacheTTL,
		cache:   make(map[string]cacheEntry),
	}
	if opts.Token != "" {
		c.env = []string{"GH_TOKEN=" + opts.Token}
	}
	if c.run == nil {
		c.run = RunGH
	}
	if c.ttl == 0 {
		c.ttl = defaultCacheTTL
	}
	return c
}

// Enabled reports whether the client talks to gh at all.
func (c *Client) Enabled() bool { return c != nil && c.enabled }

// FindOpen returns the open PR whose head is branch, or nil. Lookups are
// cached per branch for a short TTL.
func (c *Client) FindOpen(ctx context.Context, branch string) (*PR, error) {
	if !c.Enabled() || branch == "" {
		return nil, nil
	}
	c.mu.RLock()
	entry, ok := c.cache[branch]
	c.mu.RUnlock()
	if ok && time.Since(entry.timestamp) < c.ttl {
		return copyPR(entry.pr), nil
	}

	out, err := c.run(ctx, c.dir, c.env, "pr", "list",
		"--head", branch,
		"--state", "open",
		"--json", "number,title,state,headRefName,url,mergedAt",
		"--limit", "1")
	if err != nil {
		return nil, err
	}
	prs, err := jsonutil.UnmarshalArrayAllowEmpty[PR](out, "parse gh pr list")
	if err != nil {
		return nil, err
	}
	var pr *PR
	if len(prs) > 0 {
		pr = &prs[0]
	}
	c.mu.Lock()
	c.cache[branch] = cacheEntry{pr: copyPR(pr), timestamp: time.Now()}
	c.mu.Unlock()
	return pr, nil
}

// Status fetches state, review decision and checks for PR number.
func (c *Client) Status(ctx context.Context, number int) (*Status, error) {
	if !c.Enabled() {
		return nil, nil
	}
	out, err := c.run(ctx, c.dir, c.env, "pr", "view", strconv.Itoa(number),
		"--json", "number,state,reviewDecision,statusCheckRollup")
	if err != nil {
		return nil, err
	}
	var st Status
	if err := jsonutil.UnmarshalWithContext(out, &st, "parse gh pr view"); err != nil {
		return nil, err
	}
	return &st, nil
}

// Merge squash-merges PR number and deletes its branch.
func (c *Client) Merge(ctx context.Context, number int) error {
	if !c.Enabled() {
		return nil
	}
	_, err := c.run(ctx, c.dir, c.env, "pr", "merge", strconv.Itoa(number), "--squash", "--delete-branch")
	if err != nil {
		return err
	}
	c.ClearCache()
	return nil
}

// ClearCache drops cached branch lookups.
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

func copyPR(p *PR) *PR {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
