package conversation

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by an assistant turn.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// RawArguments holds the undecoded argument text when the reasoning
	// service produced arguments that are not a JSON object.
	RawArguments string `json:"raw_arguments,omitempty"`
	DecodeError  string `json:"decode_error,omitempty"`
}

// ToolResult is the recorded outcome of one tool call.
type ToolResult struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	Payload   string `json:"payload"`
}

// Turn is one immutable entry in the conversation log.
// Seq is assigned by the Store on append.
type Turn struct {
	Seq       uint64      `json:"seq"`
	Role      Role        `json:"role"`
	Content   string      `json:"content,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	Pinned    bool        `json:"pinned,omitempty"`
	Summary   bool        `json:"summary,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SystemTurn builds a pinned system turn.
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content, Pinned: true}
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn with optional tool calls.
func AssistantTurn(content string, calls []ToolCall) Turn {
	return Turn{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolTurn builds a tool turn carrying a result.
func ToolTurn(result ToolResult) Turn {
	r := result
	return Turn{Role: RoleTool, Content: result.Payload, Result: &r}
}

// HasToolCalls reports whether the turn requests any tool invocations.
func (t Turn) HasToolCalls() bool {
	return len(t.ToolCalls) > 0
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := t
	if len(t.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i := range t.ToolCalls {
			out.ToolCalls[i] = t.ToolCalls[i].Clone()
		}
	}
	if t.Result != nil {
		r := *t.Result
		out.Result = &r
	}
	return out
}

// Clone returns a deep copy of the call.
func (c ToolCall) Clone() ToolCall {
	out := c
	if c.Arguments != nil {
		out.Arguments = make(map[string]any, len(c.Arguments))
		maps.Copy(out.Arguments, c.Arguments)
	}
	return out
}

// CloneTurns deep-copies a slice of turns.
func CloneTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// estimateTokens approximates the token footprint of a turn (4 chars per token).
func estimateTokens(t Turn) int {
	n := len(t.Content)
	for _, c := range t.ToolCalls {
		n += len(c.Name) + len(c.RawArguments)
		for k, v := range c.Arguments {
			n += len(k) + len(fmt.Sprint(v))
		}
	}
	return n/4 + 1
}

// Transcript renders turns as plain text, one line per turn, for prompts
// that need the conversation as a single block.
func Transcript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			if t.Summary {
				fmt.Fprintf(&b, "SUMMARY: %s\n", t.Content)
			} else {
				fmt.Fprintf(&b, "SYSTEM: %s\n", t.Content)
			}
		case RoleUser:
			fmt.Fprintf(&b, "USER: %s\n", t.Content)
		case RoleAssistant:
			if t.HasToolCalls() {
				names := make([]string, len(t.ToolCalls))
				for i, c := range t.ToolCalls {
					names[i] = c.Name
				}
				fmt.Fprintf(&b, "ASSISTANT: Used tools: %s\n", strings.Join(names, ", "))
				if t.Content != "" {
					fmt.Fprintf(&b, "ASSISTANT: %s\n", t.Content)
				}
			} else {
				fmt.Fprintf(&b, "ASSISTANT: %s\n", t.Content)
			}
		case RoleTool:
			status := "ok"
			if t.Result != nil && !t.Result.Success {
				status = "error"
				if t.Result.ErrorKind != "" {
					status = t.Result.ErrorKind
				}
			}
			fmt.Fprintf(&b, "TOOL_RESULT[%s]: %s\n", status, t.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
