package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// DefaultPollInterval is how often WaitForCompletion checks a session.
const DefaultPollInterval = 5 * time.Second

const (
	progressTailBytes = 500
	outputTailBytes   = 4000
	captureLines      = 50
)

// WaitOptions bound and observe a wait.
type WaitOptions struct {
	// Timeout of zero waits indefinitely.
	Timeout      time.Duration
	PollInterval time.Duration
	// OnProgress receives the tail of the session's output on every poll.
	OnProgress func(tail string)
}

// WaitForCompletion polls session id until it is terminal, the timeout
// elapses, or ctx is cancelled. A timeout is reported in the Result with
// Error "Timeout"; the session keeps running. The error return is only
// for unknown sessions and ctx cancellation.
func (l *Launcher) WaitForCompletion(ctx context.Context, id string, opts WaitOptions) (Result, error) {
	if _, ok := l.registry.Get(id); !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		s, _ := l.registry.Get(id)
		if s.Status.IsTerminal() {
			return l.result(ctx, s), nil
		}
		if opts.OnProgress != nil {
			if tail := l.progress(s); tail != "" {
				opts.OnProgress(tail)
			}
		}
		select {
		case <-ctx.Done():
			return Result{Error: ctx.Err().Error()}, ctx.Err()
		case <-deadline:
			return Result{Error: TimeoutError, Output: readTail(s.LogPath, outputTailBytes)}, nil
		case <-ticker.C:
		}
	}
}

func (l *Launcher) result(ctx context.Context, s Session) Result {
	out := readTail(s.LogPath, outputTailBytes)
	r := Result{Success: s.Status == StatusCompleted, Output: out}
	if !r.Success {
		r.Error = failureText(s, out)
		return r
	}
	if s.Branch != "" && l.reviews != nil {
		pr, err := l.reviews.FindOpen(ctx, s.Branch)
		if err != nil {
			l.logger.Warn("look up review", "session", s.ID, "branch", s.Branch, "error", err)
		} else if pr != nil {
			r.ReviewID = pr.ID()
		}
	}
	return r
}

// failureText describes how the session ended, followed by the end of its
// output so failure categorization sees what the worker printed.
func failureText(s Session, out string) string {
	var b strings.Builder
	if s.ExitCode == nil {
		b.WriteString("session terminated")
	} else {
		fmt.Fprintf(&b, "worker exited with code %d", *s.ExitCode)
	}
	if tail := lastBytes(strings.TrimSpace(out), progressTailBytes); tail != "" {
		b.WriteString("\n")
		b.WriteString(tail)
	}
	return b.String()
}

// progress returns the last few hundred bytes the session printed.
func (l *Launcher) progress(s Session) string {
	if s.TmuxSession != "" && l.mux != nil {
		if pane, err := l.mux.Capture(s.TmuxSession, captureLines); err == nil {
			return lastBytes(strings.TrimRight(pane, "\n "), progressTailBytes)
		}
	}
	return readTail(s.LogPath, progressTailBytes)
}

// readTail returns up to n bytes from the end of the file at path.
func readTail(path string, n int64) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	off := info.Size() - n
	if off < 0 {
		off = 0
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, off, info.Size()-off))
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(buf), "")
}

func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[len(s)-n:], "")
}
