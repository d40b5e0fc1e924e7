package tui

import "strings"

// CommandKind is a slash command typed into the input line.
type CommandKind int

const (
	CommandNone CommandKind = iota // Plain goal text
	CommandHelp
	CommandModels
	CommandModel
	CommandClear
	CommandStop
	CommandQuit
	CommandUnknown
)

// Command is a parsed input line.
type Command struct {
	Kind CommandKind
	Arg  string // Model name for /model, the goal for CommandNone
}

// ParseCommand classifies an input line. Text that does not start with a
// slash is a goal.
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CommandNone, Arg: line}
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "help", "?":
		return Command{Kind: CommandHelp}
	case "models":
		return Command{Kind: CommandModels}
	case "model":
		return Command{Kind: CommandModel, Arg: arg}
	case "clear", "reset":
		return Command{Kind: CommandClear}
	case "stop":
		return Command{Kind: CommandStop}
	case "quit", "exit":
		return Command{Kind: CommandQuit}
	}
	return Command{Kind: CommandUnknown, Arg: name}
}

const helpText = `Commands:
  /models         list the models offered by the provider
  /model <name>   switch the reasoning model
  /clear          stop the running task and clear the conversation
  /stop           interrupt the running task, keeping the conversation
  /quit           exit
Anything else is submitted as a goal. A new goal interrupts the running one.`
