package events

import (
	"fmt"
	"strings"
	"time"
)

// Describe renders an event as one line of plain text for logs and
// terminal output.
func Describe(e Event) string {
	switch ev := e.(type) {
	case TaskStartedEvent:
		return fmt.Sprintf("task started: %s (limit %d, %d tools)", ev.Goal, ev.Limit, ev.Tools)
	case TaskFinishedEvent:
		line := fmt.Sprintf("task %s after %d iterations in %s", ev.Status, ev.Iterations, ev.Duration.Round(time.Millisecond))
		if ev.Summary != "" {
			line += ": " + ev.Summary
		}
		if ev.Err != nil && ev.Status != "completed" {
			line += fmt.Sprintf(" (%v)", ev.Err)
		}
		return line
	case IterationStartedEvent:
		return fmt.Sprintf("iteration %d", ev.Iteration)
	case AssistantTurnEvent:
		if len(ev.ToolCalls) > 0 {
			return "assistant: calling " + strings.Join(ev.ToolCalls, ", ")
		}
		return "assistant: " + clip(ev.Content, 240)
	case ToolInvokedEvent:
		line := fmt.Sprintf("tool %s -> %s", ev.Tool, ev.Outcome)
		if ev.Attempts > 1 {
			line += fmt.Sprintf(" after %d attempts", ev.Attempts)
		}
		if ev.Payload != "" {
			line += ": " + clip(ev.Payload, 160)
		}
		return line
	case VerdictEvent:
		line := "verdict " + ev.Status
		if ev.Progress >= 0 {
			line += fmt.Sprintf(" (%d%%)", ev.Progress)
		}
		if ev.Rationale != "" {
			line += ": " + ev.Rationale
		}
		if ev.NextStep != "" {
			line += " | next: " + ev.NextStep
		}
		return line
	case ConversationCompactedEvent:
		mode := "dropped"
		if ev.Summarized {
			mode = "summarized"
		}
		return fmt.Sprintf("conversation compacted: %d turns %s (%d -> %d tokens)", ev.Dropped, mode, ev.TokensBefore, ev.TokensAfter)
	case DegradedEvent:
		return fmt.Sprintf("degraded %s: %s", ev.Component, ev.Reason)
	case nil:
		return ""
	}
	return e.EventType()
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
