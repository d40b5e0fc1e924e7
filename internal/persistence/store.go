// Package persistence archives tasks, their conversation turns and their
// tool invocations in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
	_ "modernc.org/sqlite"
)

// TaskRecord is the archived summary of one task.
type TaskRecord struct {
	ID         string
	Goal       string
	Status     string
	Summary    string
	Error      string
	Limit      int
	Iterations int
	CreatedAt  time.Time
	FinishedAt time.Time // Zero while running
}

// TurnRecord is one archived conversation turn.
type TurnRecord struct {
	TaskID    string
	Seq       uint64
	Role      string
	Content   string
	ToolCalls []conversation.ToolCall
	CallID    string // Set on tool turns
	Timestamp time.Time
}

// InvocationRecord is one archived tool invocation.
type InvocationRecord struct {
	TaskID    string
	Iteration int
	CallID    string
	Tool      string
	Origin    string
	Arguments map[string]any
	Outcome   string
	Payload   string
	Attempts  int
	StartedAt time.Time
	Duration  time.Duration
}

// Store defines the archive operations.
type Store interface {
	SaveTask(ctx context.Context, rec TaskRecord) error
	GetTask(ctx context.Context, taskID string) (TaskRecord, error)
	ListTasks(ctx context.Context, limit int) ([]TaskRecord, error)

	AppendTurns(ctx context.Context, taskID string, turns []conversation.Turn) error
	GetTurns(ctx context.Context, taskID string) ([]TurnRecord, error)

	AppendInvocations(ctx context.Context, taskID string, iteration int, invs []dispatch.Invocation) error
	GetInvocations(ctx context.Context, taskID string) ([]InvocationRecord, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the archive at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr)
}

var memoryDBs atomic.Uint64

// NewMemoryStore creates a private in-memory archive.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	// Shared cache lets both pool connections see one database; the unique
	// name keeps separate stores apart.
	connStr := fmt.Sprintf("file:autopilot-%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", memoryDBs.Add(1))
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The DSN pragma covers every pooled connection; this surfaces driver
	// errors early.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
