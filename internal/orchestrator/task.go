package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
	"github.com/aristath/autopilot/internal/evaluator"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusIncomplete Status = "incomplete"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != ""
}

var (
	ErrBusy            = errors.New("engine is already running a task")
	ErrEmptyGoal       = errors.New("goal is empty")
	ErrTerminal        = errors.New("task already finished")
	ErrBudgetExhausted = errors.New("iteration limit reached")
	ErrTaskFailed      = errors.New("task judged failed")
	ErrNoTools         = errors.New("no tools available")
)

// Task is one goal driven by the engine. Its goal never changes and its
// status only moves from running to one terminal status.
type Task struct {
	ID        string
	Goal      string
	CreatedAt time.Time

	mu        sync.Mutex
	status    Status
	iteration int
}

func newTask(id, goal string, created time.Time) *Task {
	return &Task{ID: id, Goal: goal, CreatedAt: created, status: StatusRunning}
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Iteration returns the number of completed iterations.
func (t *Task) Iteration() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iteration
}

func (t *Task) completeIteration() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iteration++
	return t.iteration
}

// finish moves the task to a terminal status.
func (t *Task) finish(s Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, t.status)
	}
	if !s.Terminal() {
		return fmt.Errorf("cannot finish task with status %q", s)
	}
	t.status = s
	return nil
}

// IterationRecord captures what one completed iteration appended and the
// verdict that closed it. It is kept for diagnostics only.
type IterationRecord struct {
	Index       int
	Turns       []conversation.Turn
	Invocations []dispatch.Invocation
	Verdict     evaluator.Verdict
}

// TaskResult is the outcome of a task.
type TaskResult struct {
	TaskID     string
	Goal       string
	Status     Status
	Summary    string
	Err        error // nil for completed tasks
	Iterations int
	Records    []IterationRecord
	StartedAt  time.Time
	FinishedAt time.Time
}

// Invocations returns every invocation of the task in order.
func (r TaskResult) Invocations() []dispatch.Invocation {
	var out []dispatch.Invocation
	for _, rec := range r.Records {
		out = append(out, rec.Invocations...)
	}
	return out
}

// LastVerdict returns the verdict of the final completed iteration.
func (r TaskResult) LastVerdict() (evaluator.Verdict, bool) {
	if len(r.Records) == 0 {
		return evaluator.Verdict{}, false
	}
	return r.Records[len(r.Records)-1].Verdict, true
}
