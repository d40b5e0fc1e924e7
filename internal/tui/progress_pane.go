package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/events"
)

// ProgressPaneModel summarizes the most recent task: iteration budget,
// evaluator progress and tool outcomes.
type ProgressPaneModel struct {
	taskID       string
	status       string
	iteration    int
	limit        int
	progress     int // -1 when unknown
	accomplished string
	nextStep     string
	toolCalls    int
	toolFailures int
	degraded     int
	model        string
	width        int
	height       int
	focused      bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{progress: -1}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.TaskStartedEvent:
		m = ProgressPaneModel{
			taskID:   msg.ID,
			status:   "running",
			limit:    msg.Limit,
			progress: -1,
			model:    m.model,
			width:    m.width,
			height:   m.height,
			focused:  m.focused,
		}

	case events.IterationStartedEvent:
		if msg.ID == m.taskID {
			m.iteration = msg.Iteration
		}

	case events.ToolInvokedEvent:
		if msg.ID == m.taskID {
			m.toolCalls++
			if msg.Outcome != "success" {
				m.toolFailures++
			}
		}

	case events.VerdictEvent:
		if msg.ID == m.taskID {
			if msg.Progress >= 0 {
				m.progress = msg.Progress
			}
			m.accomplished = msg.Accomplished
			m.nextStep = msg.NextStep
		}

	case events.DegradedEvent:
		m.degraded++

	case events.TaskFinishedEvent:
		if msg.ID == m.taskID {
			m.status = msg.Status
			m.iteration = msg.Iterations
		}
	}

	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.model != "" {
		b.WriteString(fmt.Sprintf("Model:      %s\n", m.model))
	}
	if m.taskID == "" {
		b.WriteString(StyleMuted.Render("No task yet"))
	} else {
		b.WriteString(fmt.Sprintf("Status:     %s %s\n", StatusIcon(m.status), statusStyle(m.status).Render(m.status)))
		b.WriteString(fmt.Sprintf("Iteration:  %d/%d\n", m.iteration, m.limit))
		b.WriteString(fmt.Sprintf("Tool calls: %d (%s)\n", m.toolCalls, StyleFailure.Render(fmt.Sprintf("%d failed", m.toolFailures))))
		if m.degraded > 0 {
			b.WriteString(StyleDegraded.Render(fmt.Sprintf("Degraded:   %d", m.degraded)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(m.progressBar())
		if m.accomplished != "" {
			b.WriteString("\nDone: " + m.accomplished + "\n")
		}
		if m.nextStep != "" {
			b.WriteString("Next: " + m.nextStep + "\n")
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) progressBar() string {
	barWidth := min(m.width-12, 40)
	if barWidth <= 0 {
		return ""
	}
	if m.progress < 0 {
		return fmt.Sprintf("[%s]  ?%%\n", StyleMuted.Render(strings.Repeat(".", barWidth)))
	}
	done := m.progress * barWidth / 100
	bar := StyleSuccess.Render(strings.Repeat("=", done))
	bar += StyleMuted.Render(strings.Repeat(".", barWidth-done))
	return fmt.Sprintf("[%s]  %d%%\n", bar, m.progress)
}

// SetModel records the active reasoning model for display.
func (m *ProgressPaneModel) SetModel(name string) {
	m.model = name
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
