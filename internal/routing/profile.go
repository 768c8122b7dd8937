// Package routing picks the worker and model tier for a classified goal.
package routing

import (
	"slices"
	"strings"

	"agentdesk/internal/task"
)

// Strength tags an agent for the complexity bonus.
type Strength string

const (
	StrengthComplex Strength = "complex"
	StrengthFast    Strength = "fast"
)

// Profile is one row of the capability table: a worker CLI and what it is
// good at.
type Profile struct {
	ID      string
	Name    string
	Command string
	// Args precede the prompt. "{model}" is replaced with the routed model;
	// an argument pair whose value is empty after substitution is dropped.
	Args         []string
	Capabilities []task.Type
	Domains      []string
	Strengths    []Strength
	// Models maps a tier name to the model passed to the CLI.
	Models map[string]string
}

// Can reports whether the profile lists t as a capability.
func (p Profile) Can(t task.Type) bool { return slices.Contains(p.Capabilities, t) }

// HasDomain reports whether the profile lists area as a domain.
func (p Profile) HasDomain(area string) bool { return slices.Contains(p.Domains, area) }

// Has reports whether the profile carries strength s.
func (p Profile) Has(s Strength) bool { return slices.Contains(p.Strengths, s) }

// CommandArgs renders the argument list for model, without the prompt.
func (p Profile) CommandArgs(model string) []string {
	var out []string
	for i := 0; i < len(p.Args); i++ {
		arg := p.Args[i]
		if !strings.Contains(arg, "{model}") {
			out = append(out, arg)
			continue
		}
		if model == "" {
			// Drop "--model {model}" entirely rather than pass an empty value.
			if n := len(out); n > 0 && strings.HasPrefix(out[n-1], "-") && arg == "{model}" {
				out = out[:n-1]
			}
			continue
		}
		out = append(out, strings.ReplaceAll(arg, "{model}", model))
	}
	return out
}

// Find returns the profile with id.
func Find(table []Profile, id string) (Profile, bool) {
	for _, p := range table {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// DefaultProfiles is the built-in capability table.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:      "claude",
			Name:    "Claude Code",
			Command: "claude",
			Args:    []string{"--model", "{model}", "--dangerously-skip-permissions", "-p"},
			Capabilities: []task.Type{
				task.TypeFeature, task.TypeBugfix, task.TypeRefactor, task.TypeDesign, task.TypeAnalysis,
			},
			Domains:   []string{"backend", "frontend", "general"},
			Strengths: []Strength{StrengthComplex},
			Models: map[string]string{
				TierCheap.String():    "haiku",
				TierBalanced.String(): "sonnet",
				TierSmart.String():    "opus",
			},
		},
		{
			ID:      "codex",
			Name:    "Codex",
			Command: "codex",
			Args:    []string{"exec", "--model", "{model}", "--full-auto"},
			Capabilities: []task.Type{
				task.TypeFeature, task.TypeBugfix, task.TypeTest, task.TypeRefactor,
			},
			Domains:   []string{"backend", "infra"},
			Strengths: []Strength{StrengthFast},
			Models: map[string]string{
				TierCheap.String():    "gpt-5-mini",
				TierBalanced.String(): "gpt-5",
				TierSmart.String():    "gpt-5",
			},
		},
		{
			ID:      "gemini",
			Name:    "Gemini CLI",
			Command: "gemini",
			Args:    []string{"--model", "{model}", "--yolo", "-p"},
			Capabilities: []task.Type{
				task.TypeDocs, task.TypeAnalysis, task.TypeDesign, task.TypeTest,
			},
			Domains:   []string{"frontend", "general"},
			Strengths: []Strength{StrengthFast},
			Models: map[string]string{
				TierCheap.String():    "gemini-2.5-flash",
				TierBalanced.String(): "gemini-2.5-pro",
				TierSmart.String():    "gemini-2.5-pro",
			},
		},
	}
}
