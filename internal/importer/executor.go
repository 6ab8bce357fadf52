package importer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/task"
)

// Progress is invoked after every record, from a single goroutine, in the
// provider's page order. total is nil until the provider reports one.
type Progress func(processed int, total *int, latest *ItemError)

// Executor fetches, transforms, and commits records.
type Executor struct {
	// FetchAhead bounds how many pages may be in flight past the commit
	// point.
	FetchAhead int

	// MaxAttempts bounds retries of a single page fetch on rate-limit or
	// transient network failures.
	MaxAttempts int

	// BackoffBase and BackoffCap shape the exponential retry delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// NewExecutor returns an executor with the default tuning: 3 pages of
// fetch-ahead, 5 attempts per page, backoff 1s doubling up to 30s.
func NewExecutor() *Executor {
	return &Executor{
		FetchAhead:  3,
		MaxAttempts: 5,
		BackoffBase: time.Second,
		BackoffCap:  30 * time.Second,
	}
}

type fetchedPage struct {
	seq  int
	page *provider.Page
	err  error
}

type pageItem struct {
	id     string
	task   *task.Task
	recErr *mapping.RecordError
}

type mappedPage struct {
	seq   int
	items []pageItem
	err   error
}

// Run executes one import job to a terminal status. Progress is reported
// incrementally through onProgress; the returned job is terminal.
//
// Pages are fetched ahead of the commit point and mapped concurrently, but
// records are committed strictly in the provider's page order: mapped pages
// arriving out of order wait in a reorder buffer until their predecessor has
// been committed. Cancelling ctx stops the job between records, leaving it
// partial (or failed if nothing was committed).
func (e *Executor) Run(ctx context.Context, adapter provider.Adapter, credential string, rules []mapping.Rule, sink Sink, onProgress Progress) *Job {
	job := newJob(adapter.ID())
	e.run(ctx, job, adapter, credential, rules, sink, onProgress)
	return job
}

// Start is Run detached: it returns the job as soon as it is running, for
// callers that poll progress instead of blocking. Use Job.Wait for the
// terminal status.
func (e *Executor) Start(ctx context.Context, adapter provider.Adapter, credential string, rules []mapping.Rule, sink Sink, onProgress Progress) *Job {
	job := newJob(adapter.ID())
	go e.run(ctx, job, adapter, credential, rules, sink, onProgress)
	return job
}

func (e *Executor) run(ctx context.Context, job *Job, adapter provider.Adapter, credential string, rules []mapping.Rule, sink Sink, onProgress Progress) {
	defer close(job.done)
	job.setStatus(StatusRunning)

	n := e.FetchAhead
	if n < 1 {
		n = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pages := make(chan fetchedPage, n)
	mapped := make(chan mappedPage, n)

	// Fetch stage: walks the cursor chain serially (cursors are only known
	// once the previous page has arrived) but runs ahead of the committer by
	// up to n pages.
	go func() {
		defer close(pages)
		cursor := ""
		for seq := 0; ; seq++ {
			if runCtx.Err() != nil {
				return
			}
			page, err := e.fetchWithRetry(runCtx, adapter, credential, cursor)
			if err != nil {
				select {
				case pages <- fetchedPage{seq: seq, err: err}:
				case <-runCtx.Done():
				}
				return
			}
			if page.Total != nil {
				job.setTotal(*page.Total)
			}
			select {
			case pages <- fetchedPage{seq: seq, page: page}:
			case <-runCtx.Done():
				return
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}()

	// Mapping stage: n workers convert raw records concurrently, so mapped
	// pages can arrive at the committer out of order.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range pages {
				m := mappedPage{seq: f.seq, err: f.err}
				if f.err == nil {
					m.items = mapRecords(adapter.ID(), rules, f.page.Records)
				}
				select {
				case mapped <- m:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(mapped)
	}()

	// Commit stage: reorder buffer keyed by page sequence; commits, progress,
	// and error ordering all follow the provider's page order.
	pending := make(map[int]mappedPage)
	next := 0
	cancelled := false
	var terminalErr error

drain:
	for m := range mapped {
		pending[m.seq] = m
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if cur.err != nil {
				terminalErr = cur.err
				break drain
			}
			for _, it := range cur.items {
				if runCtx.Err() != nil {
					cancelled = true
					break drain
				}
				e.commitRecord(runCtx, job, sink, it, onProgress)
			}
		}
	}
	if runCtx.Err() != nil {
		cancelled = true
	}
	cancel()
	for range mapped {
		// release mapping workers blocked on send
	}

	switch {
	case terminalErr != nil && isCancellation(terminalErr):
		cancelled = true
		fallthrough
	case cancelled:
		if job.processedCount() > 0 {
			job.setStatus(StatusPartial)
		} else {
			job.fail("cancelled before any records were committed")
		}
	case terminalErr != nil:
		job.fail(terminalErr.Error())
	case job.errorCount() > 0:
		job.setStatus(StatusPartial)
	default:
		job.setStatus(StatusCompleted)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func mapRecords(sourceID string, rules []mapping.Rule, records []provider.RawRecord) []pageItem {
	items := make([]pageItem, 0, len(records))
	for _, raw := range records {
		it := pageItem{id: externalID(raw)}
		t, recErr := mapping.Apply(rules, map[string]any(raw))
		if recErr != nil {
			it.recErr = recErr
		} else {
			t.SourceID = sourceID
			t.ExternalID = it.id
			it.task = t
		}
		items = append(items, it)
	}
	return items
}

func externalID(raw provider.RawRecord) string {
	if v, ok := raw["id"]; ok {
		return fmt.Sprint(v)
	}
	// No source identity; idempotent re-runs are impossible for this record.
	return uuid.NewString()
}

// commitRecord commits one mapped record and reports progress. A skipped
// record (mapping or store rejection) still counts as processed.
func (e *Executor) commitRecord(ctx context.Context, job *Job, sink Sink, it pageItem, onProgress Progress) {
	var latest *ItemError
	var processed int

	switch {
	case it.recErr != nil:
		processed = job.recordError(it.id, it.recErr.Error())
		latest = &ItemError{ItemID: it.id, Reason: it.recErr.Error()}
	default:
		if err := sink.Commit(ctx, it.task); err != nil {
			re := &mapping.RecordError{Kind: mapping.RecordStoreRejected, Reason: err.Error()}
			processed = job.recordError(it.id, re.Error())
			latest = &ItemError{ItemID: it.id, Reason: re.Error()}
		} else {
			processed = job.recordSuccess()
		}
	}

	if onProgress != nil {
		onProgress(processed, job.totalCopy(), latest)
	}
}

// fetchWithRetry fetches one page, retrying rate-limit and transient network
// failures with exponential backoff and jitter. Non-retryable errors and
// exhausted attempts surface to the caller and fail the job.
func (e *Executor) fetchWithRetry(ctx context.Context, adapter provider.Adapter, credential, cursor string) (*provider.Page, error) {
	var lastErr error
	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.backoff(attempt, lastErr)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		page, err := adapter.FetchPage(ctx, credential, cursor)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !provider.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", e.MaxAttempts, lastErr)
}

func (e *Executor) backoff(attempt int, lastErr error) time.Duration {
	d := e.BackoffBase << (attempt - 1)
	if d > e.BackoffCap || d <= 0 {
		d = e.BackoffCap
	}

	// A server-provided Retry-After wins over our own schedule.
	var pe *provider.Error
	if errors.As(lastErr, &pe) && pe.RetryAfter > d {
		d = pe.RetryAfter
		if d > e.BackoffCap {
			d = e.BackoffCap
		}
	}

	// Up to 25% jitter so concurrent importers don't stampede.
	if j := int64(d) / 4; j > 0 {
		d += time.Duration(rand.Int63n(j))
	}
	return d
}
