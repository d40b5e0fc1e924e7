// Package tui is the interactive terminal front end: a goal input, the
// task list with each task's event log, a progress pane and a settings
// form.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/orchestrator"
	"github.com/aristath/autopilot/internal/reasoning"
)

// Runner is the part of the engine the TUI drives.
type Runner interface {
	Submit(ctx context.Context, goal string, opts orchestrator.SubmitOptions) (*orchestrator.Handle, error)
	Interrupt() bool
	Reset()
	Running() bool
	Reasoning() reasoning.Service
}

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneInput PaneID = iota
	PaneTasks
	PaneProgress
)

// Options configures New.
type Options struct {
	Runner      Runner
	Bus         *events.Bus
	Config      *config.Config
	GlobalPath  string
	ProjectPath string
}

// submittedMsg reports the result of a Submit call.
type submittedMsg struct {
	goal string
	err  error
}

// modelsMsg carries the result of /models.
type modelsMsg struct {
	names []string
	err   error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	ctx          context.Context
	runner       Runner
	input        textinput.Model
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	config       *config.Config
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates a new TUI model. It subscribes to all events from the bus.
// ctx bounds every task submitted from the TUI.
func New(ctx context.Context, opts Options) Model {
	input := textinput.New()
	input.Placeholder = "Describe a goal, or /help"
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	m := Model{
		ctx:          ctx,
		runner:       opts.Runner,
		input:        input,
		taskPane:     NewTaskPaneModel(),
		progressPane: NewProgressPaneModel(),
		settingsPane: NewSettingsPaneModel(opts.Config, opts.GlobalPath, opts.ProjectPath),
		focusedPane:  PaneInput,
		eventSub:     opts.Bus.SubscribeAll(256),
		config:       opts.Config,
	}
	if sw, ok := reasoning.SwitcherOf(opts.Runner.Reasoning()); ok {
		m.progressPane.SetModel(sw.Model())
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.eventSub))
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch msg.String() {
		case KeyCtrlC:
			m.quitting = true
			m.runner.Reset()
			return m, tea.Quit

		case KeyEsc:
			if m.runner.Interrupt() {
				m.taskPane.Notice("interrupt requested")
			}

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3
			m.updateFocusStates()

		case KeyEnter:
			if m.focusedPane == PaneInput {
				line := m.input.Value()
				m.input.Reset()
				cmds = append(cmds, m.handleLine(line))
			}

		default:
			switch m.focusedPane {
			case PaneInput:
				var cmd tea.Cmd
				m.input, cmd = m.input.Update(msg)
				cmds = append(cmds, cmd)
			case PaneTasks:
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.Event:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, _ = m.progressPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case submittedMsg:
		if msg.err != nil {
			m.taskPane.Notice(fmt.Sprintf("could not start %q: %v", msg.goal, msg.err))
		}

	case modelsMsg:
		if msg.err != nil {
			m.taskPane.Notice("listing models failed: " + msg.err.Error())
		} else {
			m.taskPane.Notice("models:\n  " + strings.Join(msg.names, "\n  "))
		}

	case settingsSavedMsg:
		m.config = msg.cfg
		m.taskPane.Notice("settings saved to " + msg.path + " (engine settings apply on restart)")
		if sw, ok := reasoning.SwitcherOf(m.runner.Reasoning()); ok && msg.cfg.Reasoning.Model != sw.Model() {
			sw.SetModel(msg.cfg.Reasoning.Model)
			m.progressPane.SetModel(msg.cfg.Reasoning.Model)
		}

	default:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// handleLine runs a slash command or submits a goal.
func (m *Model) handleLine(line string) tea.Cmd {
	cmd := ParseCommand(line)
	switch cmd.Kind {
	case CommandNone:
		if cmd.Arg == "" {
			return nil
		}
		return m.submit(cmd.Arg)

	case CommandHelp:
		m.taskPane.Notice(helpText)

	case CommandStop:
		if !m.runner.Interrupt() {
			m.taskPane.Notice("no interruptible task is running")
		}

	case CommandClear:
		m.runner.Reset()
		m.taskPane.Notice("conversation cleared")

	case CommandQuit:
		m.quitting = true
		m.runner.Reset()
		return tea.Quit

	case CommandModels:
		sw, ok := reasoning.SwitcherOf(m.runner.Reasoning())
		if !ok {
			m.taskPane.Notice("the reasoning service cannot list models")
			return nil
		}
		ctx := m.ctx
		return func() tea.Msg {
			names, err := sw.ListModels(ctx)
			return modelsMsg{names: names, err: err}
		}

	case CommandModel:
		sw, ok := reasoning.SwitcherOf(m.runner.Reasoning())
		switch {
		case !ok:
			m.taskPane.Notice("the reasoning service cannot switch models")
		case cmd.Arg == "":
			m.taskPane.Notice("current model: " + sw.Model())
		default:
			sw.SetModel(cmd.Arg)
			m.progressPane.SetModel(cmd.Arg)
			m.taskPane.Notice("model set to " + cmd.Arg)
		}

	case CommandUnknown:
		m.taskPane.Notice(fmt.Sprintf("unknown command /%s, try /help", cmd.Arg))
	}
	return nil
}

// submit starts goal off the UI goroutine: Submit waits for a running
// task to settle.
func (m *Model) submit(goal string) tea.Cmd {
	runner, ctx := m.runner, m.ctx
	return func() tea.Msg {
		_, err := runner.Submit(ctx, goal, orchestrator.SubmitOptions{})
		return submittedMsg{goal: goal, err: err}
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())

	inputStyle := StyleUnfocusedBorder
	if m.focusedPane == PaneInput {
		inputStyle = StyleFocusedBorder
	}
	input := inputStyle.Width(m.width - 2).Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, main, input, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 4 // input box and help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)
	m.input.Width = max(m.width-6, 10)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	if m.focusedPane == PaneInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
