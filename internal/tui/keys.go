package tui

// Keybinding constants
const (
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyCtrlC    = "ctrl+c"
	KeyEsc      = "esc"
	KeyEnter    = "enter"
	KeyUp       = "up"
	KeyDown     = "down"
	KeyPgUp     = "pgup"
	KeyPgDown   = "pgdown"
	KeySettings = "ctrl+s"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	return StyleHelp.Render("Enter: submit | Esc: interrupt | Tab: focus | up/down: select task | ctrl+s: settings | /help | ctrl+c: quit")
}
