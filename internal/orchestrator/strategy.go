package orchestrator

import (
	"fmt"

	"github.com/aristath/autopilot/internal/evaluator"
)

// Strategy adapts the shared iteration loop to a way of running tasks.
type Strategy interface {
	Name() string

	// KeepHistory reports whether a new task continues the conversation of
	// the previous one instead of starting clean.
	KeepHistory() bool

	// Interruptible reports whether Engine.Interrupt may stop a running
	// task. Context cancellation and new submissions always do.
	Interruptible() bool

	// Observe is called after every completed iteration.
	Observe(task *Task, rec IterationRecord)

	// Summarize renders the final summary of a task that did not complete.
	Summarize(status Status, last *evaluator.Verdict, limit int) string
}

// Batch runs one task per conversation, start to finish.
type Batch struct{}

func (Batch) Name() string                   { return "batch" }
func (Batch) KeepHistory() bool              { return false }
func (Batch) Interruptible() bool            { return false }
func (Batch) Observe(*Task, IterationRecord) {}
func (Batch) Summarize(status Status, last *evaluator.Verdict, limit int) string {
	return summarize(status, last, limit)
}

// Interactive keeps the conversation across tasks so follow-up goals can
// refer to earlier work, and lets the user interrupt a running task.
type Interactive struct {
	OnIteration func(task *Task, rec IterationRecord) // Optional progress hook
}

func (Interactive) Name() string        { return "interactive" }
func (Interactive) KeepHistory() bool   { return true }
func (Interactive) Interruptible() bool { return true }

func (s Interactive) Observe(task *Task, rec IterationRecord) {
	if s.OnIteration != nil {
		s.OnIteration(task, rec)
	}
}

func (Interactive) Summarize(status Status, last *evaluator.Verdict, limit int) string {
	return summarize(status, last, limit)
}

func summarize(status Status, last *evaluator.Verdict, limit int) string {
	progress, accomplished := "unknown", "nothing evaluated yet"
	if last != nil {
		if last.Progress >= 0 {
			progress = fmt.Sprintf("%d%%", last.Progress)
		}
		if last.Accomplished != "" {
			accomplished = last.Accomplished
		} else if last.Rationale != "" {
			accomplished = last.Rationale
		}
	}

	switch status {
	case StatusIncomplete:
		return fmt.Sprintf("Task partially completed (%s) after %d iterations: %s", progress, limit, accomplished)
	case StatusCancelled:
		return fmt.Sprintf("Task interrupted at %s completion: %s", progress, accomplished)
	case StatusFailed:
		return fmt.Sprintf("Task failed (%s): %s", progress, accomplished)
	default:
		return accomplished
	}
}
