package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	TaskID() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicIteration = "iteration"
	TopicTool      = "tool"
	TopicSystem    = "system"
)

// Event type constants
const (
	EventTypeTaskStarted           = "task.started"
	EventTypeTaskFinished          = "task.finished"
	EventTypeIterationStarted      = "iteration.started"
	EventTypeAssistantTurn         = "iteration.assistant"
	EventTypeVerdict               = "iteration.verdict"
	EventTypeToolInvoked           = "tool.invoked"
	EventTypeConversationCompacted = "system.compacted"
	EventTypeDegraded              = "system.degraded"
)

// TaskStartedEvent is published when the engine accepts a goal.
type TaskStartedEvent struct {
	ID        string
	Goal      string
	Limit     int
	Tools     int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskFinishedEvent is published once per task when it reaches a terminal
// status.
type TaskFinishedEvent struct {
	ID         string
	Status     string
	Summary    string
	Err        error
	Iterations int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) Topic() string     { return TopicTask }
func (e TaskFinishedEvent) TaskID() string    { return e.ID }

// IterationStartedEvent is published before each reasoning call.
type IterationStartedEvent struct {
	ID        string
	Iteration int
	Timestamp time.Time
}

func (e IterationStartedEvent) EventType() string { return EventTypeIterationStarted }
func (e IterationStartedEvent) Topic() string     { return TopicIteration }
func (e IterationStartedEvent) TaskID() string    { return e.ID }

// AssistantTurnEvent carries the reasoning service's reply.
type AssistantTurnEvent struct {
	ID        string
	Iteration int
	Content   string
	ToolCalls []string // Requested tool names, in request order
	Timestamp time.Time
}

func (e AssistantTurnEvent) EventType() string { return EventTypeAssistantTurn }
func (e AssistantTurnEvent) Topic() string     { return TopicIteration }
func (e AssistantTurnEvent) TaskID() string    { return e.ID }

// ToolInvokedEvent is published for every tool-call request, including
// those rejected locally.
type ToolInvokedEvent struct {
	ID        string
	Iteration int
	CallID    string
	Tool      string
	Outcome   string
	Payload   string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e ToolInvokedEvent) EventType() string { return EventTypeToolInvoked }
func (e ToolInvokedEvent) Topic() string     { return TopicTool }
func (e ToolInvokedEvent) TaskID() string    { return e.ID }

// VerdictEvent is published when an iteration's evaluation finishes.
type VerdictEvent struct {
	ID           string
	Iteration    int
	Status       string
	Rationale    string
	Progress     int // -1 when unknown
	Accomplished string
	NextStep     string
	Source       string
	Timestamp    time.Time
}

func (e VerdictEvent) EventType() string { return EventTypeVerdict }
func (e VerdictEvent) Topic() string     { return TopicIteration }
func (e VerdictEvent) TaskID() string    { return e.ID }

// ConversationCompactedEvent reports a retention pass.
type ConversationCompactedEvent struct {
	ID           string
	Dropped      int
	Summarized   bool
	Degraded     bool
	TokensBefore int
	TokensAfter  int
	Timestamp    time.Time
}

func (e ConversationCompactedEvent) EventType() string { return EventTypeConversationCompacted }
func (e ConversationCompactedEvent) Topic() string     { return TopicSystem }
func (e ConversationCompactedEvent) TaskID() string    { return e.ID }

// DegradedEvent reports that a component fell back to a lesser mode of
// operation.
type DegradedEvent struct {
	ID        string // Task ID, empty outside a task
	Component string
	Reason    string
	Timestamp time.Time
}

func (e DegradedEvent) EventType() string { return EventTypeDegraded }
func (e DegradedEvent) Topic() string     { return TopicSystem }
func (e DegradedEvent) TaskID() string    { return e.ID }
