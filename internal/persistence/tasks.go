package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a task is not in the archive.
var ErrNotFound = errors.New("not found")

// SaveTask inserts or updates a task. Saves are idempotent; the creation
// time of an existing row is kept.
func (s *SQLiteStore) SaveTask(ctx context.Context, rec TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, goal, status, summary, error, iteration_limit, iterations, created_at, finished_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			goal = excluded.goal,
			status = excluded.status,
			summary = excluded.summary,
			error = excluded.error,
			iteration_limit = excluded.iteration_limit,
			iterations = excluded.iterations,
			finished_at = excluded.finished_at,
			updated_at = CURRENT_TIMESTAMP
	`, rec.ID, rec.Goal, rec.Status, rec.Summary, rec.Error, rec.Limit, rec.Iterations,
		unixNano(rec.CreatedAt), unixNano(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

const taskColumns = `id, goal, status, summary, error, iteration_limit, iterations, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (TaskRecord, error) {
	var (
		rec               TaskRecord
		created, finished int64
	)
	err := row.Scan(&rec.ID, &rec.Goal, &rec.Status, &rec.Summary, &rec.Error, &rec.Limit, &rec.Iterations, &created, &finished)
	if err != nil {
		return TaskRecord{}, err
	}
	rec.CreatedAt = fromUnixNano(created)
	rec.FinishedAt = fromUnixNano(finished)
	return rec, nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return TaskRecord{}, fmt.Errorf("failed to query task: %w", err)
	}
	return rec, nil
}

// ListTasks returns the most recent tasks first. limit <= 0 returns all.
func (s *SQLiteStore) ListTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
