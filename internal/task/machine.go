package task

import (
	"errors"
	"fmt"

	"agentdesk/internal/jsonutil"
)

// Status is a task's position in its lifecycle.
type Status int

const (
	StatusPending Status = iota
	StatusAnalyzing
	StatusRunning
	StatusBlocked
	StatusReviewing
	StatusCompleted
	StatusFailed
)

var statusNames = jsonutil.EnumNames[Status]{"pending", "analyzing", "running", "blocked", "reviewing", "completed", "failed"}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusAnalyzing, StatusRunning, StatusBlocked, StatusReviewing, StatusCompleted, StatusFailed}
}

func (s Status) String() string { return statusNames.Label(s) }

// ParseStatus parses a status label.
func ParseStatus(s string) (Status, error) { return statusNames.Parse("Status", s) }

// IsTerminal reports whether no worker is expected to act on the task.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Event drives a status transition.
type Event int

const (
	EventStart Event = iota
	EventComplete
	EventFail
	EventBlock
	EventUnblock
	EventApprove
	EventReject
	EventRetry
)

var eventNames = jsonutil.EnumNames[Event]{"start", "complete", "fail", "block", "unblock", "approve", "reject", "retry"}

func (e Event) String() string { return eventNames.Label(e) }

// ParseEvent parses an event label.
func ParseEvent(s string) (Event, error) { return eventNames.Parse("Event", s) }

type edge struct {
	from  Status
	event Event
}

var transitions = map[edge]Status{
	{StatusPending, EventStart}:      StatusAnalyzing,
	{StatusAnalyzing, EventComplete}: StatusRunning,
	{StatusAnalyzing, EventFail}:     StatusFailed,
	{StatusRunning, EventComplete}:   StatusReviewing,
	{StatusRunning, EventFail}:       StatusFailed,
	{StatusRunning, EventBlock}:      StatusBlocked,
	{StatusBlocked, EventUnblock}:    StatusRunning,
	{StatusReviewing, EventApprove}:  StatusCompleted,
	{StatusReviewing, EventReject}:   StatusFailed,
	{StatusFailed, EventRetry}:       StatusPending,
}

// Next returns the status reached from s by e, or false when the
// lifecycle has no such edge.
func Next(s Status, e Event) (Status, bool) {
	to, ok := transitions[edge{s, e}]
	return to, ok
}

var (
	// ErrNotFound is returned for ids the store does not hold.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is wrapped by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
)

// TransitionError reports an event that is illegal in the task's current status.
type TransitionError struct {
	ID    string
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot %s from %s", e.ID, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// transition applies e to t in place.
func transition(t *Task, e Event) error {
	to, ok := Next(t.Status, e)
	if !ok {
		return &TransitionError{ID: t.ID, From: t.Status, Event: e}
	}
	t.Status = to
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrNotFound)
}
