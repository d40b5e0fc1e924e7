package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/events"
)

// TaskState is what the pane knows about one submitted task.
type TaskState struct {
	TaskID    string
	Goal      string
	Status    string // "running", "completed", "failed", "cancelled", "incomplete"
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel shows the task list and the selected task's event log.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // insertion order for display
	notices     []string              // Lines not tied to a task
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		if _, exists := m.tasks[msg.ID]; !exists {
			m.tasks[msg.ID] = &TaskState{
				TaskID:    msg.ID,
				Goal:      msg.Goal,
				Status:    "running",
				StartTime: msg.Timestamp,
			}
			m.taskOrder = append(m.taskOrder, msg.ID)
			// Follow the newest task
			m.selectedIdx = len(m.taskOrder) - 1
		}
		m.appendLine(msg.ID, StyleTitle.Render(events.Describe(msg)))
		m.updateViewportContent()

	case events.TaskFinishedEvent:
		if task, exists := m.tasks[msg.ID]; exists {
			task.Status = msg.Status
			task.Duration = msg.Duration
		}
		m.appendLine(msg.ID, statusStyle(msg.Status).Render(events.Describe(msg)))
		m.updateViewportContent()

	case events.Event:
		if !m.appendLine(msg.TaskID(), lineStyle(msg).Render(events.Describe(msg))) {
			break
		}
		if msg.TaskID() == "" || m.getSelectedTaskID() == msg.TaskID() {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// Notice adds a line that belongs to no task, such as command output.
func (m *TaskPaneModel) Notice(text string) {
	for _, line := range strings.Split(text, "\n") {
		m.notices = append(m.notices, StyleNotice.Render(line))
	}
	m.updateViewportContent()
}

// appendLine records line under taskID. Lines for unknown tasks are
// dropped; task-less lines become notices.
func (m *TaskPaneModel) appendLine(taskID, line string) bool {
	if taskID == "" {
		m.notices = append(m.notices, line)
		return true
	}
	task, exists := m.tasks[taskID]
	if !exists {
		return false
	}
	task.Output = append(task.Output, line)
	return true
}

func lineStyle(e events.Event) lipgloss.Style {
	switch e.(type) {
	case events.AssistantTurnEvent:
		return StyleAssistant
	case events.ToolInvokedEvent:
		return StyleTool
	case events.VerdictEvent:
		return StyleVerdict
	case events.DegradedEvent, events.ConversationCompactedEvent:
		return StyleDegraded
	}
	return StyleMuted
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleMuted.Render("Type a goal..."))
	}
	for i, taskID := range m.taskOrder {
		task := m.tasks[taskID]
		goal := task.Goal
		if len(goal) > width-6 {
			goal = goal[:width-9] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(task.Status), goal)
		if i == m.selectedIdx {
			line = lipgloss.NewStyle().
				Background(lipgloss.Color("62")).
				Foreground(lipgloss.Color("0")).
				Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

func (m TaskPaneModel) getSelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Selected returns the state of the selected task, if any.
func (m TaskPaneModel) Selected() (TaskState, bool) {
	task, ok := m.tasks[m.getSelectedTaskID()]
	if !ok {
		return TaskState{}, false
	}
	return *task, true
}

// updateViewportContent shows the notices followed by the selected task's
// output.
func (m *TaskPaneModel) updateViewportContent() {
	lines := append([]string{}, m.notices...)
	if task, ok := m.tasks[m.getSelectedTaskID()]; ok {
		lines = append(lines, task.Output...)
	}
	if len(lines) == 0 {
		m.viewport.SetContent("Waiting for a goal...")
		return
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	listWidth := 25
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
