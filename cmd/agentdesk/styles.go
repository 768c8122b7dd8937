package main

import (
	"github.com/charmbracelet/lipgloss"

	"agentdesk/internal/task"
)

// Color constants
const (
	colorPrimary   = "39"  // Blue
	colorSuccess   = "42"  // Green
	colorWarning   = "214" // Orange
	colorError     = "196" // Red
	colorMuted     = "245" // Gray
	colorHighlight = "212" // Pink
)

// styles contains all styles for command output.
type styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Status   lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
	TaskID   lipgloss.Style
	Agent    lipgloss.Style
	Border   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorPrimary)),
		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorHighlight)),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorMuted)),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorSuccess)),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorError)),
		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorWarning)),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorMuted)),
		TaskID: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorPrimary)),
		Agent: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorHighlight)),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorMuted)).
			Padding(0, 1),
	}
}

// Status icons
const (
	iconPending   = "○"
	iconRunning   = "●"
	iconReviewing = "◐"
	iconSuccess   = "✓"
	iconFailed    = "✗"
	iconBlocked   = "⊘"
)

func statusIcon(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return iconSuccess
	case task.StatusFailed:
		return iconFailed
	case task.StatusBlocked:
		return iconBlocked
	case task.StatusReviewing:
		return iconReviewing
	case task.StatusAnalyzing, task.StatusRunning:
		return iconRunning
	default:
		return iconPending
	}
}

func (s styles) statusStyle(st task.Status) lipgloss.Style {
	switch st {
	case task.StatusCompleted:
		return s.Success
	case task.StatusFailed:
		return s.Error
	case task.StatusBlocked, task.StatusReviewing:
		return s.Warning
	case task.StatusAnalyzing, task.StatusRunning:
		return s.Subtitle
	default:
		return s.Status
	}
}

// status renders an icon and label for st.
func (s styles) status(st task.Status) string {
	return s.statusStyle(st).Render(statusIcon(st) + " " + st.String())
}
