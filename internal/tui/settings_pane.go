package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/config"
)

// settingsSavedMsg is sent after the settings form wrote the config file.
type settingsSavedMsg struct {
	cfg  *config.Config
	path string
}

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings
	saveTarget     string
	provider       string
	model          string
	iterationLimit string
	dispatchMode   string
	guide          bool
	headless       bool
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFields() {
	m.saveTarget = "global"
	m.provider = m.config.Reasoning.Provider
	m.model = m.config.Reasoning.Model
	m.iterationLimit = strconv.Itoa(m.config.Engine.IterationLimit)
	m.dispatchMode = "sequential"
	if m.config.Engine.ConcurrentDispatch {
		m.dispatchMode = "concurrent"
	}
	m.guide = m.config.Engine.GuideWithNextStep
	m.headless = m.config.Tools.Browser.Headless
}

func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.autopilot/config.json)", "global"),
					huh.NewOption("Project (.autopilot/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("provider").
				Title("Provider").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
				).
				Value(&m.provider),

			huh.NewInput().
				Key("model").
				Title("Model").
				Value(&m.model).
				Placeholder("gpt-4o-mini").
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("model is required")
					}
					return nil
				}),
		).Title("Reasoning"),

		huh.NewGroup(
			huh.NewInput().
				Key("iterationLimit").
				Title("Iteration Limit").
				Value(&m.iterationLimit).
				Placeholder("25").
				Validate(validateLimit),

			huh.NewSelect[string]().
				Key("dispatchMode").
				Title("Tool Dispatch").
				Options(
					huh.NewOption("Sequential", "sequential"),
					huh.NewOption("Concurrent (independent tools only)", "concurrent"),
				).
				Value(&m.dispatchMode),

			huh.NewConfirm().
				Key("guide").
				Title("Nudge with the evaluator's next step").
				Value(&m.guide),

			huh.NewConfirm().
				Key("headless").
				Title("Headless browser").
				Value(&m.headless),
		).Title("Engine"),
	)
}

func validateLimit(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	m.applyFormToConfig()
	targetPath := m.globalPath
	if m.saveTarget == "project" {
		targetPath = m.projectPath
	}
	if err := config.Save(m.config, targetPath); err != nil {
		m.err = err
		m.saved = false
		return m, cmd
	}
	m.saved = true
	m.err = nil
	m.visible = false

	cfg := m.config
	return m, tea.Batch(cmd, func() tea.Msg {
		return settingsSavedMsg{cfg: cfg, path: targetPath}
	})
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() {
	m.config.Reasoning.Provider = m.provider
	m.config.Reasoning.Model = strings.TrimSpace(m.model)
	if n, err := strconv.Atoi(strings.TrimSpace(m.iterationLimit)); err == nil && n > 0 {
		m.config.Engine.IterationLimit = n
	}
	m.config.Engine.ConcurrentDispatch = m.dispatchMode == "concurrent"
	m.config.Engine.GuideWithNextStep = m.guide
	m.config.Tools.Browser.Headless = m.headless
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the
// form from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFields()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
