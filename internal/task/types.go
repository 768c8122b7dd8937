// Package task defines tracked units of work and the stores that persist them.
package task

import (
	"time"

	"agentdesk/internal/jsonutil"
)

// DefaultMaxAttempts bounds the retry loop when a task does not set its own.
const DefaultMaxAttempts = 3

// Type is the kind of work a task asks for.
type Type int

const (
	TypeFeature Type = iota
	TypeBugfix
	TypeRefactor
	TypeDocs
	TypeTest
	TypeDesign
	TypeAnalysis
)

var typeNames = jsonutil.EnumNames[Type]{"feature", "bugfix", "refactor", "docs", "test", "design", "analysis"}

func (t Type) String() string { return typeNames.Label(t) }

// ParseType parses a type label such as "bugfix".
func ParseType(s string) (Type, error) { return typeNames.Parse("Type", s) }

// MarshalJSON implements json.Marshaler.
func (t Type) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(t) }

// UnmarshalJSON implements json.Unmarshaler.
func (t *Type) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseType)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Priority orders tasks by urgency.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = jsonutil.EnumNames[Priority]{"low", "medium", "high", "critical"}

func (p Priority) String() string { return priorityNames.Label(p) }

// ParsePriority parses a priority label.
func ParsePriority(s string) (Priority, error) { return priorityNames.Parse("Priority", s) }

// MarshalJSON implements json.Marshaler.
func (p Priority) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(p) }

// UnmarshalJSON implements json.Unmarshaler.
func (p *Priority) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParsePriority)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Complexity is the estimated size of a task.
type Complexity int

const (
	ComplexityLow Complexity = iota
	ComplexityMedium
	ComplexityHigh
)

var complexityNames = jsonutil.EnumNames[Complexity]{"low", "medium", "high"}

func (c Complexity) String() string { return complexityNames.Label(c) }

// ParseComplexity parses a complexity label.
func ParseComplexity(s string) (Complexity, error) { return complexityNames.Parse("Complexity", s) }

// MarshalJSON implements json.Marshaler.
func (c Complexity) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(c) }

// UnmarshalJSON implements json.Unmarshaler.
func (c *Complexity) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseComplexity)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Category classifies why an attempt failed. It selects the retry budget
// and the prompt adjustment for the next attempt.
type Category int

const (
	CategoryUnknown   Category = iota
	CategoryContext            // the worker lacked information
	CategoryDirection          // the worker misread the goal
	CategoryTechnical          // the worker hit an error it could not fix
)

var categoryNames = jsonutil.EnumNames[Category]{"unknown", "context", "direction", "technical"}

func (c Category) String() string { return categoryNames.Label(c) }

// ParseCategory parses a category label.
func ParseCategory(s string) (Category, error) { return categoryNames.Parse("Category", s) }

// MarshalJSON implements json.Marshaler.
func (c Category) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(c) }

// UnmarshalJSON implements json.Unmarshaler.
func (c *Category) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseCategory)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// FailureAnalysis explains one failed attempt.
type FailureAnalysis struct {
	Reason         string   `json:"reason"`
	Category       Category `json:"category"`
	Suggestion     string   `json:"suggestion"`
	AdjustedPrompt string   `json:"adjusted_prompt,omitempty"`
}

// Context is the material gathered for a task before any worker runs.
type Context struct {
	Area         string     `json:"area,omitempty"`
	Complexity   Complexity `json:"complexity"`
	Requirements []string   `json:"requirements,omitempty"`
	Constraints  []string   `json:"constraints,omitempty"`
	Files        []string   `json:"files,omitempty"`
	Memory       []string   `json:"memory,omitempty"`
}

// Result is the terminal output of a successful run.
type Result struct {
	Output   string `json:"output,omitempty"`
	ReviewID string `json:"review_id,omitempty"`
}

// Task is a unit of work with a lifecycle status.
type Task struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Type        Type             `json:"type"`
	Priority    Priority         `json:"priority"`
	Status      Status           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Goal        string           `json:"goal"`
	Context     Context          `json:"context"`
	Agent       string           `json:"agent,omitempty"`
	Model       string           `json:"model,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Result      *Result          `json:"result,omitempty"`
	Analysis    *FailureAnalysis `json:"analysis,omitempty"`

	// Source names the producer of a task that did not come from a goal
	// (for example a scanner); ExternalRef is that producer's id for it.
	Source      string `json:"source,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.Context.Requirements = cloneStrings(t.Context.Requirements)
	c.Context.Constraints = cloneStrings(t.Context.Constraints)
	c.Context.Files = cloneStrings(t.Context.Files)
	c.Context.Memory = cloneStrings(t.Context.Memory)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.Analysis != nil {
		a := *t.Analysis
		c.Analysis = &a
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Patch holds the fields an Update changes. Nil fields are left alone.
// Status is not patchable; use Transition.
type Patch struct {
	Title       *string
	Description *string
	Type        *Type
	Priority    *Priority
	Context     *Context
	Agent       *string
	Model       *string
	SessionID   *string
	Attempts    *int
	MaxAttempts *int
	Result      *Result
	Analysis    *FailureAnalysis
}

// Apply merges p into t.
func (p Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Context != nil {
		t.Context = *p.Context
	}
	if p.Agent != nil {
		t.Agent = *p.Agent
	}
	if p.Model != nil {
		t.Model = *p.Model
	}
	if p.SessionID != nil {
		t.SessionID = *p.SessionID
	}
	if p.Attempts != nil {
		t.Attempts = *p.Attempts
	}
	if p.MaxAttempts != nil {
		t.MaxAttempts = *p.MaxAttempts
	}
	if p.Result != nil {
		r := *p.Result
		t.Result = &r
	}
	if p.Analysis != nil {
		a := *p.Analysis
		t.Analysis = &a
	}
}

// Filter selects tasks in List. Zero fields match everything.
type Filter struct {
	Statuses    []Status
	Source      string
	ExternalRef string
}

// Match reports whether t passes the filter.
func (f Filter) Match(t *Task) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.ExternalRef != "" && t.ExternalRef != f.ExternalRef {
		return false
	}
	return true
}

// Ptr returns a pointer to v, for building Patch values.
func Ptr[T any](v T) *T { return &v }
