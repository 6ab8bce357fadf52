package storage

import (
	"context"

	"github.com/jyang234/taskport/internal/task"
)

// Sink adapts the task store to the executor's commit surface.
type Sink struct {
	Store *TaskStore
}

// Commit writes one imported task. Idempotency comes from the store's
// (source_id, external_id) upsert.
func (s *Sink) Commit(ctx context.Context, t *task.Task) error {
	return s.Store.Upsert(ctx, &Task{
		SourceID:    t.SourceID,
		ExternalID:  t.ExternalID,
		Title:       t.Title,
		Status:      t.Status,
		Assignee:    t.Assignee,
		DueDate:     t.DueDate,
		Priority:    t.Priority,
		Description: t.Description,
		Tags:        t.Tags,
	})
}
