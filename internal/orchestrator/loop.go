package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/aristath/autopilot/internal/cancel"
	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
	"github.com/aristath/autopilot/internal/evaluator"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/tools"
)

// taskRun holds the per-task state of one RunTask call.
type taskRun struct {
	engine *Engine
	task   *Task
	tok    *cancel.Token
	limit  int
	logger *slog.Logger

	set        *tools.Set
	names      []string
	seen       map[string]bool // Call IDs issued in this task
	records    []IterationRecord
	last       *evaluator.Verdict
	lastAnswer string
}

func (r *taskRun) execute(ctx context.Context, set *tools.Set) TaskResult {
	e := r.engine

	e.ensureLive(ctx)
	if set == nil {
		discovered, err := e.discoverTools(ctx)
		if err != nil {
			if r.cancelled(ctx) {
				return r.finish(ctx, StatusCancelled, r.cancelErr(ctx))
			}
			return r.finish(ctx, StatusFailed, err)
		}
		set = discovered
	}
	r.set = set
	r.names = set.Names()

	r.logger.Info("task started",
		"goal", r.task.Goal, "limit", r.limit, "tools", set.Len(), "strategy", e.cfg.Strategy.Name())
	e.bus.Publish(events.TaskStartedEvent{
		ID:        r.task.ID,
		Goal:      r.task.Goal,
		Limit:     r.limit,
		Tools:     set.Len(),
		Timestamp: r.task.CreatedAt,
	})
	r.archiveTask(ctx)

	if err := r.open(ctx); err != nil {
		if r.cancelled(ctx) {
			return r.finish(ctx, StatusCancelled, r.cancelErr(ctx))
		}
		return r.finish(ctx, StatusFailed, err)
	}

	for r.task.Iteration() < r.limit {
		if status, err := r.iterate(ctx, r.task.Iteration()+1); status != "" {
			return r.finish(ctx, status, err)
		}
	}
	r.logger.Warn("iteration limit reached", "limit", r.limit)
	return r.finish(ctx, StatusIncomplete, ErrBudgetExhausted)
}

// open prepares the conversation for the goal.
func (r *taskRun) open(ctx context.Context) error {
	e := r.engine

	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	if r.cancelled(ctx) {
		return r.cancelErr(ctx)
	}

	if !e.cfg.Strategy.KeepHistory() {
		e.store.Clear()
	}
	var turns []conversation.Turn
	if !e.store.HasPinned() {
		turns = append(turns, conversation.SystemTurn(e.cfg.SystemPrompt))
	}
	turns = append(turns, conversation.UserTurn(taskPrompt(r.task.Goal, r.names)))

	stored, err := e.store.Append(turns...)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	r.archiveTurns(ctx, stored)
	return nil
}

func taskPrompt(goal string, names []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", goal)
	if len(names) > 0 {
		fmt.Fprintf(&b, "Execute this task step by step. Available tools: %s\n\n", strings.Join(names, ", "))
	}
	b.WriteString("Start with the first necessary action.")
	return b.String()
}

// iterate runs one iteration. A non-empty status ends the task.
func (r *taskRun) iterate(ctx context.Context, index int) (Status, error) {
	e := r.engine

	if r.cancelled(ctx) {
		return StatusCancelled, r.cancelErr(ctx)
	}
	r.compact(ctx)
	if r.cancelled(ctx) {
		return StatusCancelled, r.cancelErr(ctx)
	}

	e.bus.Publish(events.IterationStartedEvent{ID: r.task.ID, Iteration: index, Timestamp: e.now()})
	r.logger.Debug("iteration started", "iteration", index)

	// Planning
	reply, err := e.reasoning.Plan(ctx, e.store.Snapshot(), r.set.Descriptors())
	if r.cancelled(ctx) {
		return StatusCancelled, r.cancelErr(ctx)
	}
	if err != nil {
		return StatusFailed, fmt.Errorf("plan iteration %d: %w", index, err)
	}
	reply = r.normalize(reply)
	r.lastAnswer = reply.Content
	e.bus.Publish(events.AssistantTurnEvent{
		ID:        r.task.ID,
		Iteration: index,
		Content:   reply.Content,
		ToolCalls: callNames(reply.ToolCalls),
		Timestamp: e.now(),
	})

	// Tool execution
	step := []conversation.Turn{reply}
	var invocations []dispatch.Invocation
	if reply.HasToolCalls() {
		gate := func() bool { return !r.cancelled(ctx) }
		invocations = e.dispatcher.Dispatch(ctx, r.set, reply.ToolCalls, gate)
		for _, inv := range invocations {
			step = append(step, conversation.ToolTurn(inv.ToolResult()))
			r.observeInvocation(index, inv)
		}
	}

	stored, ok := r.appendStep(ctx, step...)
	if !ok {
		r.logger.Info("step discarded after cancellation", "iteration", index, "turns", len(step))
		return StatusCancelled, r.cancelErr(ctx)
	}
	r.archiveInvocations(ctx, index, invocations)

	// Evaluating
	if r.cancelled(ctx) {
		return StatusCancelled, r.cancelErr(ctx)
	}
	verdict, err := e.eval.Evaluate(ctx, r.task.Goal, e.store.Snapshot(), r.names)
	if r.cancelled(ctx) {
		return StatusCancelled, r.cancelErr(ctx)
	}
	if err != nil {
		return StatusFailed, fmt.Errorf("evaluate iteration %d: %w", index, err)
	}

	n := r.task.completeIteration()
	rec := IterationRecord{Index: n, Turns: stored, Invocations: invocations, Verdict: verdict}
	r.records = append(r.records, rec)
	r.last = &verdict
	e.cfg.Strategy.Observe(r.task, rec)
	e.bus.Publish(events.VerdictEvent{
		ID:           r.task.ID,
		Iteration:    n,
		Status:       string(verdict.Status),
		Rationale:    verdict.Rationale,
		Progress:     verdict.Progress,
		Accomplished: verdict.Accomplished,
		NextStep:     verdict.NextStep,
		Source:       string(verdict.Source),
		Timestamp:    e.now(),
	})
	r.logger.Info("iteration evaluated",
		"iteration", n, "status", verdict.Status, "progress", verdict.Progress, "source", verdict.Source)

	switch verdict.Status {
	case evaluator.StatusComplete:
		return StatusCompleted, nil
	case evaluator.StatusFailed:
		return StatusFailed, fmt.Errorf("%w: %s", ErrTaskFailed, verdict.Rationale)
	}

	if e.cfg.GuideWithNextStep && verdict.NextStep != "" && n < r.limit {
		nudge := conversation.UserTurn(fmt.Sprintf(
			"You should make your own decision without asking the user for help, but you could use %q as a reference.",
			verdict.NextStep))
		r.appendStep(ctx, nudge)
	}
	return "", nil
}

// normalize makes the reply an assistant turn whose call IDs are unique
// within the task.
func (r *taskRun) normalize(reply conversation.Turn) conversation.Turn {
	reply = reply.Clone()
	reply.Role = conversation.RoleAssistant
	reply.Seq = 0
	reply.Pinned = false
	for i := range reply.ToolCalls {
		id := reply.ToolCalls[i].ID
		if id == "" || r.seen[id] {
			id = "call_" + uuid.NewString()
			reply.ToolCalls[i].ID = id
		}
		r.seen[id] = true
	}
	return reply
}

func (r *taskRun) observeInvocation(index int, inv dispatch.Invocation) {
	e := r.engine
	e.bus.Publish(events.ToolInvokedEvent{
		ID:        r.task.ID,
		Iteration: index,
		CallID:    inv.CallID,
		Tool:      inv.Name,
		Outcome:   string(inv.Outcome.Kind),
		Payload:   inv.Outcome.Payload,
		Attempts:  inv.Attempts,
		Duration:  inv.Duration,
		Timestamp: e.now(),
	})
	r.logger.Debug("tool invoked",
		"tool", inv.Name, "call_id", inv.CallID, "outcome", inv.Outcome.Kind, "attempts", inv.Attempts, "duration", inv.Duration)

	switch inv.Outcome.Kind {
	case dispatch.OutcomeToolError, dispatch.OutcomeTransientFailure:
		if sessionEnded(inv.Outcome.Payload) {
			e.needsReconnect.Store(true)
		}
	}
}

// appendStep appends turns as one unit unless the task has been cancelled.
func (r *taskRun) appendStep(ctx context.Context, turns ...conversation.Turn) ([]conversation.Turn, bool) {
	e := r.engine
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	if r.cancelled(ctx) {
		return nil, false
	}
	stored, err := e.store.Append(turns...)
	if err != nil {
		// Only malformed turns are rejected; the engine builds them all.
		r.logger.Error("append step", "error", err)
		return nil, false
	}
	r.archiveTurns(ctx, stored)
	return stored, true
}

func (r *taskRun) compact(ctx context.Context) {
	e := r.engine
	if !e.store.NeedsCompaction() {
		return
	}
	report, err := e.store.Compact(ctx)
	if err != nil {
		r.logger.Debug("compaction interrupted", "error", err)
		return
	}
	if report.Dropped == 0 {
		return
	}
	e.bus.Publish(events.ConversationCompactedEvent{
		ID:           r.task.ID,
		Dropped:      report.Dropped,
		Summarized:   report.Summarized,
		Degraded:     report.Degraded,
		TokensBefore: report.TokensBefore,
		TokensAfter:  report.TokensAfter,
		Timestamp:    e.now(),
	})
	if report.Degraded {
		reason := "summarization failed, truncated conversation"
		if report.Err != nil {
			reason += ": " + report.Err.Error()
		}
		e.publishDegraded("conversation", reason)
	}
}

func (r *taskRun) cancelled(ctx context.Context) bool {
	return r.tok.Cancelled() || ctx.Err() != nil
}

func (r *taskRun) cancelErr(ctx context.Context) error {
	if err := r.tok.Err(); err != nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return context.Canceled
}

func (r *taskRun) finish(ctx context.Context, status Status, err error) TaskResult {
	e := r.engine
	if ferr := r.task.finish(status); ferr != nil {
		r.logger.Error("finish task", "error", ferr)
	}

	res := TaskResult{
		TaskID:     r.task.ID,
		Goal:       r.task.Goal,
		Status:     status,
		Err:        err,
		Iterations: r.task.Iteration(),
		Records:    r.records,
		StartedAt:  r.task.CreatedAt,
		FinishedAt: e.now(),
	}
	if status == StatusCompleted {
		res.Err = nil
		res.Summary = completedSummary(r.last, r.lastAnswer)
	} else {
		res.Summary = e.cfg.Strategy.Summarize(status, r.last, r.limit)
	}

	level := slog.LevelInfo
	if status == StatusFailed {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "task finished",
		"status", status, "iterations", res.Iterations, "duration", res.FinishedAt.Sub(res.StartedAt), "error", res.Err)
	e.bus.Publish(events.TaskFinishedEvent{
		ID:         r.task.ID,
		Status:     string(status),
		Summary:    res.Summary,
		Err:        res.Err,
		Iterations: res.Iterations,
		Duration:   res.FinishedAt.Sub(res.StartedAt),
		Timestamp:  res.FinishedAt,
	})
	r.archiveFinish(ctx, res)
	return res
}

func completedSummary(last *evaluator.Verdict, answer string) string {
	if last != nil && last.Accomplished != "" {
		return last.Accomplished
	}
	if strings.TrimSpace(answer) != "" {
		return answer
	}
	if last != nil {
		return last.Rationale
	}
	return ""
}

func callNames(calls []conversation.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
