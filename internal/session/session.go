// Package session launches workers as isolated, long-running sessions and
// supervises them until they exit. A session runs either as a detached
// child process (optionally on a pty) or inside a named tmux session.
package session

import (
	"errors"
	"time"

	"agentdesk/internal/jsonutil"
)

// Status is the lifecycle state of a session.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
)

var statusNames = jsonutil.EnumNames[Status]{"starting", "running", "paused", "completed", "failed"}

func (s Status) String() string { return statusNames.Label(s) }

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) { return statusNames.Parse("Status", s) }

// IsTerminal reports whether no further status change is allowed.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s Status) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(s) }

func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var (
	// ErrTaskBusy is returned by Launch when the task already has an active session.
	ErrTaskBusy = errors.New("task already has an active session")
	// ErrUnknownSession is returned for session ids the registry has never seen.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotInteractive is returned by SendCommand for sessions without a terminal.
	ErrNotInteractive = errors.New("session does not accept input")
)

// Session is one supervised execution attempt.
type Session struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"taskId"`
	Agent         string     `json:"agent"`
	Status        Status     `json:"status"`
	WorkspacePath string     `json:"workspacePath,omitempty"`
	TmuxSession   string     `json:"tmuxSession,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	PID           int        `json:"pid,omitempty"`
	LogPath       string     `json:"logPath"`
	ExitCode      *int       `json:"exitCode,omitempty"`
}

// Interactive reports whether the session accepts typed input.
func (s Session) Interactive() bool { return s.TmuxSession != "" }

func (s *Session) clone() Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.ExitCode != nil {
		code := *s.ExitCode
		c.ExitCode = &code
	}
	return c
}

// Result is what WaitForCompletion reports.
type Result struct {
	Success  bool
	Output   string
	Error    string
	ReviewID string
}

// TimeoutError is the Result.Error of a wait that ran out of time.
const TimeoutError = "Timeout"
