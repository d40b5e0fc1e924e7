package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
)

// AppendTurns archives turns of a task in one transaction. Turns already
// archived (same sequence number) are skipped.
func (s *SQLiteStore) AppendTurns(ctx context.Context, taskID string, turns []conversation.Turn) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range turns {
			calls := ""
			if len(t.ToolCalls) > 0 {
				raw, err := json.Marshal(t.ToolCalls)
				if err != nil {
					return fmt.Errorf("failed to encode tool calls: %w", err)
				}
				calls = string(raw)
			}
			callID := ""
			if t.Result != nil {
				callID = t.Result.CallID
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO turns (task_id, seq, role, content, tool_calls, call_id, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(task_id, seq) DO NOTHING
			`, taskID, int64(t.Seq), string(t.Role), t.Content, calls, callID, unixNano(t.Timestamp))
			if err != nil {
				return fmt.Errorf("failed to insert turn %d: %w", t.Seq, err)
			}
		}
		return nil
	})
}

// GetTurns returns a task's archived turns in sequence order.
func (s *SQLiteStore) GetTurns(ctx context.Context, taskID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, content, tool_calls, call_id, timestamp
		FROM turns
		WHERE task_id = ?
		ORDER BY seq
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var (
			rec   TurnRecord
			seq   int64
			calls string
			ts    int64
		)
		if err := rows.Scan(&seq, &rec.Role, &rec.Content, &calls, &rec.CallID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &rec.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls of turn %d: %w", seq, err)
			}
		}
		rec.TaskID = taskID
		rec.Seq = uint64(seq)
		rec.Timestamp = fromUnixNano(ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return out, nil
}

// AppendInvocations archives the invocations of one iteration.
func (s *SQLiteStore) AppendInvocations(ctx context.Context, taskID string, iteration int, invs []dispatch.Invocation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, inv := range invs {
			args, err := json.Marshal(inv.Arguments)
			if err != nil {
				return fmt.Errorf("failed to encode arguments of %s: %w", inv.CallID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO invocations (task_id, iteration, call_id, tool, origin, arguments, outcome, payload, attempts, started_at, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, taskID, iteration, inv.CallID, inv.Name, inv.Origin, string(args), string(inv.Outcome.Kind),
				inv.Outcome.Payload, inv.Attempts, unixNano(inv.StartedAt), inv.Duration.Milliseconds())
			if err != nil {
				return fmt.Errorf("failed to insert invocation %s: %w", inv.CallID, err)
			}
		}
		return nil
	})
}

// GetInvocations returns a task's invocations in the order they were
// archived.
func (s *SQLiteStore) GetInvocations(ctx context.Context, taskID string) ([]InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, call_id, tool, origin, arguments, outcome, payload, attempts, started_at, duration_ms
		FROM invocations
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var out []InvocationRecord
	for rows.Next() {
		var (
			rec        InvocationRecord
			args       string
			started    int64
			durationMS int64
		)
		err := rows.Scan(&rec.Iteration, &rec.CallID, &rec.Tool, &rec.Origin, &args, &rec.Outcome,
			&rec.Payload, &rec.Attempts, &started, &durationMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &rec.Arguments); err != nil {
			return nil, fmt.Errorf("failed to decode arguments of %s: %w", rec.CallID, err)
		}
		rec.TaskID = taskID
		rec.StartedAt = fromUnixNano(started)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
