// vidvault/task/store.go
package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Schema for the tasks table. Applied with CREATE TABLE IF NOT EXISTS on
// startup so a fresh database works out of the box.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id           VARCHAR(128) PRIMARY KEY,
    source_url   TEXT         NOT NULL,
    status       VARCHAR(16)  NOT NULL DEFAULT 'queued',
    result       JSON         NULL,
    error_detail TEXT         NULL,
    webhook_url  TEXT         NULL,
    attempts     INT          NOT NULL DEFAULT 0,
    created_at   DATETIME(3)  NOT NULL,
    updated_at   DATETIME(3)  NOT NULL,
    INDEX idx_tasks_status_created (status, created_at)
)`

// Store persists tasks in MySQL. All state changes are single-row atomic
// updates; the store is the single source of truth for task state across
// worker processes.
type Store struct {
	db *sqlx.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to task database: %w", err)
	}
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(16)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure tasks schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection. Used by tests.
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable. Used by the health
// endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a new queued task.
func (s *Store) Create(ctx context.Context, t *Task) error {
	const q = `INSERT INTO tasks (id, source_url, status, webhook_url, attempts, created_at, updated_at)
               VALUES (?, ?, ?, ?, 0, NOW(3), NOW(3))`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.SourceURL, StatusQueued, t.WebhookURL)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// IsDuplicate reports whether err is the primary-key violation raised
// when a task with the same ID already exists. Concurrent submissions of
// the same ID race on Create; the loser sees this instead of a new row.
func IsDuplicate(err error) bool {
	var merr *mysql.MySQLError
	return errors.As(err, &merr) && merr.Number == 1062
}

// Get returns a task by ID, or (nil, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

// ClaimNext atomically selects the oldest queued task, marks it
// processing and returns it. Rows locked by concurrent claimants are
// skipped, so every queued task is handed to exactly one claimant.
// Returns (nil, nil) when no queued task is available.
func (s *Store) ClaimNext(ctx context.Context) (*Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var t Task
	const selectQ = `SELECT * FROM tasks
                     WHERE status = 'queued'
                     ORDER BY created_at
                     LIMIT 1
                     FOR UPDATE SKIP LOCKED`
	err = tx.GetContext(ctx, &t, selectQ)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select queued task: %w", err)
	}

	const updateQ = `UPDATE tasks
                     SET status = 'processing', attempts = attempts + 1, updated_at = NOW(3)
                     WHERE id = ?`
	if _, err := tx.ExecContext(ctx, updateQ, t.ID); err != nil {
		return nil, fmt.Errorf("mark task %s processing: %w", t.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim of %s: %w", t.ID, err)
	}

	t.Status = StatusProcessing
	t.Attempts++
	return &t, nil
}

// MarkCompleted stores the result payload and flips the task to completed.
func (s *Store) MarkCompleted(ctx context.Context, id string, result json.RawMessage) error {
	const q = `UPDATE tasks SET status = 'completed', result = ?, updated_at = NOW(3) WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, []byte(result), id); err != nil {
		return fmt.Errorf("mark task %s completed: %w", id, err)
	}
	return nil
}

// MarkFailed records the terminal error detail.
func (s *Store) MarkFailed(ctx context.Context, id string, errorDetail string) error {
	const q = `UPDATE tasks SET status = 'failed', error_detail = ?, updated_at = NOW(3) WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, errorDetail, id); err != nil {
		return fmt.Errorf("mark task %s failed: %w", id, err)
	}
	return nil
}

// Requeue resets a task to queued for a retry attempt.
func (s *Store) Requeue(ctx context.Context, id string) error {
	const q = `UPDATE tasks SET status = 'queued', updated_at = NOW(3) WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("requeue task %s: %w", id, err)
	}
	return nil
}

// CountAttempts returns how many times the task has been claimed.
func (s *Store) CountAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT attempts FROM tasks WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("count attempts for %s: %w", id, err)
	}
	return n, nil
}
