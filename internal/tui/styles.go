package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	StyleTitle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleHelp    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	StyleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	StyleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Bold(true)
	StyleFailure = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true)
)

// Transcript line styles, one per event kind.
var (
	StyleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	StyleTool      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	StyleVerdict   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	StyleDegraded  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	StyleNotice    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

// taskStatus pairs the icon and style shown for a task status.
type taskStatus struct {
	icon  string
	style lipgloss.Style
}

// taskStatuses covers the running state and every terminal status.
var taskStatuses = map[string]taskStatus{
	"running":    {"●", lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true)},
	"completed":  {"✓", StyleSuccess},
	"failed":     {"✗", StyleFailure},
	"cancelled":  {"⊘", lipgloss.NewStyle().Foreground(lipgloss.Color("208"))},
	"incomplete": {"◌", lipgloss.NewStyle().Foreground(lipgloss.Color("11"))},
}

func lookupStatus(status string) taskStatus {
	if s, ok := taskStatuses[status]; ok {
		return s
	}
	return taskStatus{"○", StyleMuted}
}

func statusStyle(status string) lipgloss.Style { return lookupStatus(status).style }

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	s := lookupStatus(status)
	return s.style.Render(s.icon)
}
