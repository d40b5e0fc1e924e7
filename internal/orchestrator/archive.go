package orchestrator

import (
	"context"
	"time"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
	"github.com/aristath/autopilot/internal/persistence"
)

// Archive records tasks outside the process. Failures never affect the
// task; they are reported as degraded events.
type Archive interface {
	SaveTask(ctx context.Context, rec persistence.TaskRecord) error
	AppendTurns(ctx context.Context, taskID string, turns []conversation.Turn) error
	AppendInvocations(ctx context.Context, taskID string, iteration int, invs []dispatch.Invocation) error
}

const archiveTimeout = 5 * time.Second

// archiveCtx detaches archive writes from task cancellation so the final
// state of a cancelled task is still recorded.
func archiveCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
}

func (r *taskRun) archiveFailed(op string, err error) {
	r.logger.Warn("archive write failed", "op", op, "error", err, "degraded", true)
	r.engine.publishDegraded("archive", op+": "+err.Error())
}

func (r *taskRun) archiveTask(ctx context.Context) {
	if r.engine.archive == nil {
		return
	}
	actx, cancel := archiveCtx(ctx)
	defer cancel()
	err := r.engine.archive.SaveTask(actx, persistence.TaskRecord{
		ID:        r.task.ID,
		Goal:      r.task.Goal,
		Status:    string(StatusRunning),
		Limit:     r.limit,
		CreatedAt: r.task.CreatedAt,
	})
	if err != nil {
		r.archiveFailed("save task", err)
	}
}

func (r *taskRun) archiveTurns(ctx context.Context, turns []conversation.Turn) {
	if r.engine.archive == nil || len(turns) == 0 {
		return
	}
	actx, cancel := archiveCtx(ctx)
	defer cancel()
	if err := r.engine.archive.AppendTurns(actx, r.task.ID, turns); err != nil {
		r.archiveFailed("append turns", err)
	}
}

func (r *taskRun) archiveInvocations(ctx context.Context, iteration int, invs []dispatch.Invocation) {
	if r.engine.archive == nil || len(invs) == 0 {
		return
	}
	actx, cancel := archiveCtx(ctx)
	defer cancel()
	if err := r.engine.archive.AppendInvocations(actx, r.task.ID, iteration, invs); err != nil {
		r.archiveFailed("append invocations", err)
	}
}

func (r *taskRun) archiveFinish(ctx context.Context, res TaskResult) {
	if r.engine.archive == nil {
		return
	}
	rec := persistence.TaskRecord{
		ID:         res.TaskID,
		Goal:       res.Goal,
		Status:     string(res.Status),
		Summary:    res.Summary,
		Limit:      r.limit,
		Iterations: res.Iterations,
		CreatedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	actx, cancel := archiveCtx(ctx)
	defer cancel()
	if err := r.engine.archive.SaveTask(actx, rec); err != nil {
		r.archiveFailed("finish task", err)
	}
}
