// Package prompt renders worker instructions for a task.
package prompt

import (
	"fmt"
	"strings"

	"agentdesk/internal/task"
)

// DoneMarker is the line a worker prints when it believes the task is done.
const DoneMarker = "AGENTDESK_DONE"

// Build renders the first-attempt prompt: goal, classification, the
// gathered context, and lessons from memory.
func Build(t *task.Task) string {
	var b strings.Builder

	b.WriteString("# Task: ")
	b.WriteString(t.Title)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Type: %s\nPriority: %s\n", t.Type, t.Priority)
	if t.Context.Area != "" {
		fmt.Fprintf(&b, "Area: %s\n", t.Context.Area)
	}
	fmt.Fprintf(&b, "Complexity: %s\n\n", t.Context.Complexity)

	b.WriteString("## Goal\n\n")
	b.WriteString(strings.TrimSpace(t.Goal))
	b.WriteString("\n")

	if t.Description != "" && t.Description != t.Goal {
		b.WriteString("\n## Description\n\n")
		b.WriteString(strings.TrimSpace(t.Description))
		b.WriteString("\n")
	}

	writeList(&b, "Requirements", t.Context.Requirements)
	writeList(&b, "Constraints", t.Context.Constraints)
	writeList(&b, "Relevant files", t.Context.Files)
	writeList(&b, "Lessons from earlier tasks", t.Context.Memory)

	b.WriteString("\n## Instructions\n\n")
	b.WriteString(typeGuidance(t.Type))
	b.WriteString("\n")
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

func typeGuidance(t task.Type) string {
	switch t {
	case task.TypeBugfix:
		return "Reproduce the bug first, fix the root cause, and add a regression test."
	case task.TypeRefactor:
		return "Keep behavior identical. Run the existing tests before and after each step."
	case task.TypeDocs:
		return "Keep documentation accurate to the current code. Do not change code unless asked."
	case task.TypeTest:
		return "Cover the described behavior with focused tests. Do not change production code unless a test exposes a bug."
	case task.TypeDesign:
		return "Describe the proposed design and its trade-offs before implementing anything."
	case task.TypeAnalysis:
		return "Investigate and report findings with evidence. Do not change code."
	default:
		return "Implement the goal with tests, following the conventions already in the repository."
	}
}

// Adjust appends the retry block for a failed attempt to the previous prompt.
func Adjust(previous string, attempt int, a task.FailureAnalysis) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(previous, "\n"))
	fmt.Fprintf(&b, "\n\n## Attempt %d failed (%s)\n\n", attempt, a.Category)
	if a.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", oneLine(a.Reason, 400))
	}
	b.WriteString(adjustment(a.Category))
	b.WriteString("\n")
	if a.Suggestion != "" {
		fmt.Fprintf(&b, "Suggestion: %s\n", a.Suggestion)
	}
	if a.AdjustedPrompt != "" {
		b.WriteString(a.AdjustedPrompt)
		b.WriteString("\n")
	}
	return b.String()
}

func adjustment(c task.Category) string {
	switch c {
	case task.CategoryContext:
		return "The previous attempt was missing information. Explore the repository first: locate the relevant files, read them, and confirm paths exist before editing."
	case task.CategoryDirection:
		return "The previous attempt misread the goal. Re-read the goal and requirements, restate them in your own words, and check each one before finishing."
	case task.CategoryTechnical:
		return "The previous attempt hit a technical error. Read the full error output, fix the cause rather than the symptom, and run the build and tests before finishing."
	default:
		return "The previous attempt failed for an unclear reason. Work in smaller steps and report progress as you go."
	}
}

// Trailer is appended to every prompt handed to a worker.
func Trailer(taskID string) string {
	return fmt.Sprintf("\n---\nTask ID: %s\nWhen the task is complete, commit your changes and print %s on its own line. If you cannot complete it, explain why and exit with a non-zero status.\n", taskID, DoneMarker)
}

// WithTrailer returns p followed by the trailer for taskID.
func WithTrailer(p, taskID string) string {
	return strings.TrimRight(p, "\n") + "\n" + Trailer(taskID)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
