// Package importer runs the transfer pipeline: fetch raw records from a
// provider, map them into tasks, and commit them to the task sink while
// reporting progress and partial failures.
package importer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jyang234/taskport/internal/task"
)

// Job statuses. A job is terminal once it reaches completed, failed, or
// partial.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// ItemError records why one record was skipped.
type ItemError struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// Sink is the append-only commit surface provided by the surrounding
// application's task store. Commit must be idempotent keyed by
// (SourceID, ExternalID) so a re-run job does not duplicate records.
type Sink interface {
	Commit(ctx context.Context, t *task.Task) error
}

// Job tracks one execution of the import pipeline. It is mutated only by the
// executor; everyone else reads through Snapshot.
type Job struct {
	mu sync.Mutex

	id        string
	sourceID  string
	startedAt time.Time

	status     Status
	total      *int
	processed  int
	errors     []ItemError
	failure    string
	finishedAt *time.Time

	done chan struct{}
}

// Snapshot is a point-in-time copy of a job's observable state.
type Snapshot struct {
	ID         string      `json:"id"`
	SourceID   string      `json:"source_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Status     Status      `json:"status"`
	Total      *int        `json:"total,omitempty"`
	Processed  int         `json:"processed"`
	Errors     []ItemError `json:"errors,omitempty"`
	Failure    string      `json:"failure,omitempty"`
}

func newJob(sourceID string) *Job {
	return &Job{
		id:        uuid.NewString(),
		sourceID:  sourceID,
		startedAt: time.Now(),
		status:    StatusPending,
		done:      make(chan struct{}),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Wait blocks until the job reaches a terminal status or ctx expires.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:         j.id,
		SourceID:   j.sourceID,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Status:     j.status,
		Processed:  j.processed,
		Failure:    j.failure,
	}
	if j.total != nil {
		t := *j.total
		s.Total = &t
	}
	s.Errors = make([]ItemError, len(j.errors))
	copy(s.Errors, j.errors)
	return s
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	if s.Terminal() {
		now := time.Now()
		j.finishedAt = &now
	}
}

func (j *Job) setTotal(total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.total == nil {
		j.total = &total
	}
}

func (j *Job) recordSuccess() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.processed++
	return j.processed
}

func (j *Job) recordError(itemID, reason string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.processed++
	j.errors = append(j.errors, ItemError{ItemID: itemID, Reason: reason})
	return j.processed
}

func (j *Job) fail(reason string) {
	j.mu.Lock()
	j.failure = reason
	j.mu.Unlock()
	j.setStatus(StatusFailed)
}

func (j *Job) totalCopy() *int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.total == nil {
		return nil
	}
	t := *j.total
	return &t
}

func (j *Job) processedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.processed
}

func (j *Job) errorCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.errors)
}
