package evaluator

import (
	"fmt"
	"strings"

	"github.com/aristath/autopilot/internal/conversation"
)

const systemPrompt = "You are a task progress evaluator. You judge whether a goal has been reached " +
	"from the conversation between an assistant and its tools. Reply with a single JSON object and nothing else."

func buildPrompt(goal string, snapshot []conversation.Turn, toolNames []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GOAL: %s\n\n", goal)
	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "AVAILABLE TOOLS: %s\n\n", strings.Join(toolNames, ", "))
	}
	b.WriteString("CONVERSATION:\n")
	b.WriteString(conversation.Transcript(snapshot))
	b.WriteString(`

Evaluate what has been accomplished, how far along the goal is (0-100),
what should happen next and with which tool, and whether the goal is done.
Use status "complete" only when the goal is fully achieved, "failed" only when
it cannot be achieved, and "continue" otherwise.

Respond with JSON only, without code fences:
{
  "status": "continue" | "complete" | "failed",
  "rationale": "why you reached this judgment",
  "confidence": 0.0-1.0,
  "accomplished": "what has been done so far",
  "progress": 0-100,
  "next_step": "the next concrete action, empty when done",
  "suggested_tool": "tool name or null"
}
`)
	return b.String()
}
