// Package tmux runs workers inside named, detached tmux sessions.
// Session lookup and teardown go through gotmux. Session creation, key
// injection and pane capture shell out to the tmux CLI.
package tmux

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/GianlucaP106/gotmux/gotmux"
)

// SessionPrefix starts every session name this package creates.
const SessionPrefix = "agentdesk-"

// SessionName returns the deterministic session name for taskID.
func SessionName(taskID string) string {
	id := strings.Map(func(r rune) rune {
		// tmux treats '.' and ':' as target separators.
		if r == '.' || r == ':' || r == ' ' {
			return '-'
		}
		return r
	}, taskID)
	if len(id) > 12 {
		id = id[:12]
	}
	return SessionPrefix + id
}

// Server manages detached sessions on the default tmux server.
type Server struct {
	tmux *gotmux.Tmux
}

// New connects to the default tmux server.
func New() (*Server, error) {
	t, err := gotmux.DefaultTmux()
	if err != nil {
		return nil, fmt.Errorf("tmux: %w", err)
	}
	return &Server{tmux: t}, nil
}

// Available reports whether a tmux binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// NewSession starts a detached session running command in dir. command
// is handed to tmux as a single argument and run by the pane's shell, so
// any words in it must already be quoted with Quote.
func (s *Server) NewSession(name, dir, command string) error {
	if err := run("new-session", "-d", "-s", name, "-c", dir, command); err != nil {
		return fmt.Errorf("tmux new-session %s: %w", name, err)
	}
	return nil
}

// HasSession reports whether the named session exists.
func (s *Server) HasSession(name string) bool {
	return s.tmux.HasSession(name)
}

// KillSession kills the named session. A missing session is not an error.
func (s *Server) KillSession(name string) error {
	session, err := s.tmux.GetSessionByName(name)
	if err != nil {
		if isNoSession(err) {
			return nil
		}
		return fmt.Errorf("tmux find session %s: %w", name, err)
	}
	if session == nil {
		return nil
	}
	if err := session.Kill(); err != nil && !isNoSession(err) {
		return fmt.Errorf("tmux kill-session %s: %w", name, err)
	}
	return nil
}

// ListSessions returns the names of live sessions created by this package.
func (s *Server) ListSessions() (map[string]bool, error) {
	sessions, err := s.tmux.ListSessions()
	if err != nil {
		if isNoSession(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}
	out := make(map[string]bool, len(sessions))
	for _, session := range sessions {
		if strings.HasPrefix(session.Name, SessionPrefix) {
			out[session.Name] = true
		}
	}
	return out, nil
}

// SendKeys types text into the session's active pane and presses Enter.
func (s *Server) SendKeys(name, text string) error {
	return SendKeys(name, text)
}

// Capture returns the last lines of the session's active pane.
func (s *Server) Capture(name string, lines int) (string, error) {
	return CapturePane(name, lines)
}

// PipeToFile appends everything the session's pane prints to path.
func (s *Server) PipeToFile(name, path string) error {
	return run("pipe-pane", "-o", "-t", name, "cat >> "+Quote(path))
}

// Quote returns s as a single-quoted POSIX shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SendKeys sends text literally to target, then Enter.
func SendKeys(target, text string) error {
	if err := run("send-keys", "-l", "-t", target, text); err != nil {
		return err
	}
	return run("send-keys", "-t", target, "Enter")
}

// CapturePane returns the visible content plus up to lines of scrollback
// from target's active pane.
func CapturePane(target string, lines int) (string, error) {
	cmd := exec.Command("tmux", "capture-pane", "-p", "-J", "-t", target, "-S", "-"+strconv.Itoa(lines))
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

func run(args ...string) error {
	cmd := exec.Command("tmux", args...)
	var out bytes.Buffer
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return nil
}

// isNoSession matches tmux's messages for a missing session or server.
func isNoSession(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "session not found")
}
