// Package storage provides the SQLite-backed task store used as the default
// commit sink for imports.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TaskStore persists imported tasks. Commits are idempotent keyed by
// (source_id, external_id): re-importing the same item updates it in place
// instead of creating a duplicate.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore opens (and if needed creates) the task database at dbPath.
func NewTaskStore(dbPath string) (*TaskStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &TaskStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// migrate creates the necessary tables
func (s *TaskStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			source_id   TEXT NOT NULL,
			external_id TEXT NOT NULL,
			title       TEXT NOT NULL,
			status      TEXT NOT NULL,
			assignee    TEXT,
			due_date    DATETIME,
			priority    TEXT,
			description TEXT,
			tags        TEXT,
			imported_at DATETIME NOT NULL,
			PRIMARY KEY (source_id, external_id)
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *TaskStore) Close() error {
	return s.db.Close()
}

// Task mirrors the internal task schema; defined locally so this package has
// no dependency on the import pipeline.
type Task struct {
	SourceID    string
	ExternalID  string
	Title       string
	Status      string
	Assignee    string
	DueDate     *time.Time
	Priority    string
	Description string
	Tags        []string
}

// Upsert writes a task, replacing any previous row with the same
// (source_id, external_id).
func (s *TaskStore) Upsert(ctx context.Context, t *Task) error {
	if t.SourceID == "" || t.ExternalID == "" {
		return fmt.Errorf("task identity (source_id, external_id) is required")
	}

	var tags any
	if len(t.Tags) > 0 {
		b, err := json.Marshal(t.Tags)
		if err != nil {
			return err
		}
		tags = string(b)
	}

	var due any
	if t.DueDate != nil {
		due = t.DueDate.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (source_id, external_id, title, status, assignee, due_date, priority, description, tags, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			assignee = excluded.assignee,
			due_date = excluded.due_date,
			priority = excluded.priority,
			description = excluded.description,
			tags = excluded.tags,
			imported_at = excluded.imported_at
	`, t.SourceID, t.ExternalID, t.Title, t.Status, nullable(t.Assignee), due,
		nullable(t.Priority), nullable(t.Description), tags, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert task %s/%s: %w", t.SourceID, t.ExternalID, err)
	}
	return nil
}

// Get retrieves one task by identity.
func (s *TaskStore) Get(ctx context.Context, sourceID, externalID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, external_id, title, status, assignee, due_date, priority, description, tags
		FROM tasks WHERE source_id = ? AND external_id = ?
	`, sourceID, externalID)
	return scanTask(row)
}

// Count returns the number of stored tasks for a source. An empty sourceID
// counts everything.
func (s *TaskStore) Count(ctx context.Context, sourceID string) (int, error) {
	var n int
	var err error
	if sourceID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE source_id = ?`, sourceID).Scan(&n)
	}
	return n, err
}

// List returns tasks for a source ordered by import time.
func (s *TaskStore) List(ctx context.Context, sourceID string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, external_id, title, status, assignee, due_date, priority, description, tags
		FROM tasks WHERE source_id = ? ORDER BY imported_at, external_id LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*Task, error) {
	var t Task
	var assignee, priority, description, tags sql.NullString
	var due sql.NullTime

	err := row.Scan(&t.SourceID, &t.ExternalID, &t.Title, &t.Status,
		&assignee, &due, &priority, &description, &tags)
	if err != nil {
		return nil, err
	}

	t.Assignee = assignee.String
	t.Priority = priority.String
	t.Description = description.String
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("corrupt tags for %s/%s: %w", t.SourceID, t.ExternalID, err)
		}
	}
	return &t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
