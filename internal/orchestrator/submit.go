package orchestrator

import (
	"context"
	"strings"

	"github.com/aristath/autopilot/internal/tools"
)

// SubmitOptions adjusts a submission.
type SubmitOptions struct {
	Reset bool       // Clear the conversation before starting
	Limit int        // Iteration limit; <= 0 uses the engine default
	Tools *tools.Set // nil lists tools from the surface
}

// Handle tracks a submitted task.
type Handle struct {
	id     string
	engine *Engine
	done   chan struct{}
	stop   context.CancelFunc

	result TaskResult
	err    error
}

// ID returns the task ID.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (TaskResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}
}

// Cancel stops the task. It works whatever the strategy and is a no-op
// once the task has finished.
func (h *Handle) Cancel() {
	h.engine.stepMu.Lock()
	defer h.engine.stepMu.Unlock()
	h.stop()
}

// Submit starts goal in the background. A task that is still running is
// interrupted (or reset, with opts.Reset) and allowed to settle first.
// ctx bounds the lifetime of the new task.
func (e *Engine) Submit(ctx context.Context, goal string, opts SubmitOptions) (*Handle, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, ErrEmptyGoal
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	resetDone := false
	if prev := e.current; prev != nil {
		select {
		case <-prev.done:
		default:
			e.logger.Info("interrupting running task for new submission", "task_id", prev.id, "reset", opts.Reset)
			if opts.Reset {
				e.Reset()
				resetDone = true
			} else {
				e.stepMu.Lock()
				e.cancel.Interrupt()
				e.stepMu.Unlock()
			}
			select {
			case <-prev.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if opts.Reset && !resetDone {
		e.Reset()
	}

	runCtx, stop := context.WithCancel(ctx)
	h := &Handle{
		id:     e.newID(),
		engine: e,
		done:   make(chan struct{}),
		stop:   stop,
	}
	e.current = h

	go func() {
		defer close(h.done)
		defer stop()
		h.result, h.err = e.run(runCtx, h.id, goal, opts.Tools, opts.Limit)
	}()
	return h, nil
}
