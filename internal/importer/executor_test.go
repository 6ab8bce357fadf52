package importer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/task"
)

// fakeAdapter serves canned pages keyed by a numeric cursor and can inject a
// queue of errors per cursor before the page finally succeeds.
type fakeAdapter struct {
	mu       sync.Mutex
	pages    []*provider.Page
	failures map[string][]error
	fetches  int
}

func (a *fakeAdapter) ID() string { return "fake" }

func (a *fakeAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	return "tester", nil
}

func (a *fakeAdapter) DefaultRules() []mapping.Rule { return testRules() }

func (a *fakeAdapter) FetchPage(ctx context.Context, credential, cursor string) (*provider.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++

	if q := a.failures[cursor]; len(q) > 0 {
		err := q[0]
		a.failures[cursor] = q[1:]
		return nil, err
	}

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	return a.pages[idx], nil
}

// makePages builds pages of perPage records with sequential ids r1, r2, ...
// and a known total.
func makePages(total, perPage int) []*provider.Page {
	var pages []*provider.Page
	for start := 0; start < total; start += perPage {
		end := start + perPage
		if end > total {
			end = total
		}
		page := &provider.Page{Total: intPtr(total)}
		for i := start; i < end; i++ {
			page.Records = append(page.Records, provider.RawRecord{
				"id":    fmt.Sprintf("r%d", i+1),
				"title": fmt.Sprintf("task %d", i+1),
				"state": "open",
			})
		}
		if end < total {
			page.NextCursor = strconv.Itoa(len(pages) + 1)
		}
		pages = append(pages, page)
	}
	return pages
}

func intPtr(n int) *int { return &n }

func testRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "title", TargetField: task.FieldTitle, Required: true},
		{SourceField: "state", TargetField: task.FieldStatus, Required: true},
	}
}

type fakeSink struct {
	mu        sync.Mutex
	committed []string
	reject    map[string]bool
}

func (s *fakeSink) Commit(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[t.ExternalID] {
		return fmt.Errorf("constraint violation")
	}
	s.committed = append(s.committed, t.ExternalID)
	return nil
}

func (s *fakeSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.committed...)
}

func testExecutor() *Executor {
	return &Executor{
		FetchAhead:  3,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func rateLimit(after time.Duration) error {
	return &provider.Error{Provider: "fake", Kind: provider.KindRateLimited, Status: 429, RetryAfter: after}
}

func TestRunCompletes(t *testing.T) {
	adapter := &fakeAdapter{pages: makePages(25, 10)}
	sink := &fakeSink{}

	job := testExecutor().Run(context.Background(), adapter, "tok", testRules(), sink, nil)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (%s)", snap.Status, snap.Failure)
	}
	if snap.Processed != 25 {
		t.Errorf("processed = %d, want 25", snap.Processed)
	}
	if snap.Total == nil || *snap.Total != 25 {
		t.Errorf("total = %v, want 25", snap.Total)
	}
	if len(snap.Errors) != 0 {
		t.Errorf("unexpected errors: %v", snap.Errors)
	}
	if snap.FinishedAt == nil {
		t.Error("terminal job must record a finish time")
	}

	ids := sink.ids()
	if len(ids) != 25 {
		t.Fatalf("committed %d records, want 25", len(ids))
	}
	for i, id := range ids {
		if want := fmt.Sprintf("r%d", i+1); id != want {
			t.Fatalf("commit order broken at %d: got %s, want %s", i, id, want)
		}
	}
}

func TestRunSkipsBadRecords(t *testing.T) {
	pages := makePages(10, 5)
	// Drop the required title from one record mid-stream.
	delete(pages[1].Records[2], "title")

	adapter := &fakeAdapter{pages: pages}
	sink := &fakeSink{}

	job := testExecutor().Run(context.Background(), adapter, "tok", testRules(), sink, nil)

	snap := job.Snapshot()
	if snap.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", snap.Status)
	}
	if snap.Processed != 10 {
		t.Errorf("skipped records still count as processed: got %d", snap.Processed)
	}
	if len(snap.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", snap.Errors)
	}
	if snap.Errors[0].ItemID != "r8" {
		t.Errorf("error item = %s, want r8", snap.Errors[0].ItemID)
	}
	if len(sink.ids()) != 9 {
		t.Errorf("committed %d, want 9", len(sink.ids()))
	}
}

func TestRunSinkRejection(t *testing.T) {
	adapter := &fakeAdapter{pages: makePages(4, 2)}
	sink := &fakeSink{reject: map[string]bool{"r3": true}}

	job := testExecutor().Run(context.Background(), adapter, "tok", testRules(), sink, nil)

	snap := job.Snapshot()
	if snap.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", snap.Status)
	}
	if snap.Processed != 4 {
		t.Errorf("processed = %d, want 4", snap.Processed)
	}
	if len(snap.Errors) != 1 || snap.Errors[0].ItemID != "r3" {
		t.Fatalf("errors = %v", snap.Errors)
	}
}

func TestRunRetriesRateLimit(t *testing.T) {
	adapter := &fakeAdapter{
		pages: makePages(6, 3),
		failures: map[string][]error{
			"1": {rateLimit(0), rateLimit(0)},
		},
	}
	sink := &fakeSink{}

	job := testExecutor().Run(context.Background(), adapter, "tok", testRules(), sink, nil)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (%s)", snap.Status, snap.Failure)
	}
	if snap.Processed != 6 {
		t.Errorf("processed = %d, want 6", snap.Processed)
	}
	// 2 page fetches plus 2 failed attempts on the second page.
	if adapter.fetches != 4 {
		t.Errorf("fetches = %d, want 4", adapter.fetches)
	}
}

func TestRunFailsAfterMaxAttempts(t *testing.T) {
	adapter := &fakeAdapter{
		pages: makePages(6, 3),
		failures: map[string][]error{
			"1": {rateLimit(0), rateLimit(0), rateLimit(0), rateLimit(0)},
		},
	}
	sink := &fakeSink{}

	job := testExecutor().Run(context.Background(), adapter, "tok", testRules(), sink, nil)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.Failure == "" {
		t.Error("failed job must carry a failure reason")
	}
	// First page committed before the second page gave up.
	if snap.Processed != 3 {
		t.Errorf("processed = %d, want 3", snap.Processed)
	}
	if len(sink.ids()) != 3 {
		t.Errorf("committed %d, want 3", len(sink.ids()))
	}
	// Initial page, then MaxAttempts on the broken cursor.
	if adapter.fetches != 4 {
		t.Errorf("fetches = %d, want 4", adapter.fetches)
	}
}

func TestRunFailsFastOnMalformed(t *testing.T) {
	adapter := &fakeAdapter{
		pages: makePages(6, 3),
		failures: map[string][]error{
			"1": {&provider.Error{Provider: "fake", Kind: provider.KindMalformed, Err: fmt.Errorf("bad json")}},
		},
	}
	sink := &fakeSink{}

	job := testExecutor().Run(context.Background(), adapter, "tok", testRules(), sink, nil)

	snap := job.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if adapter.fetches != 2 {
		t.Errorf("malformed must not be retried: fetches = %d, want 2", adapter.fetches)
	}
	if len(sink.ids()) != 3 {
		t.Errorf("earlier commits must survive: committed %d, want 3", len(sink.ids()))
	}
}

func TestRunCancellation(t *testing.T) {
	t.Run("mid-run is partial", func(t *testing.T) {
		adapter := &fakeAdapter{pages: makePages(50, 10)}
		sink := &fakeSink{}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		job := testExecutor().Run(ctx, adapter, "tok", testRules(), sink, func(processed int, total *int, latest *ItemError) {
			if processed == 5 {
				cancel()
			}
		})

		snap := job.Snapshot()
		if snap.Status != StatusPartial {
			t.Fatalf("status = %s, want partial (%s)", snap.Status, snap.Failure)
		}
		if snap.Processed == 0 || snap.Processed == 50 {
			t.Errorf("processed = %d, want a partial count", snap.Processed)
		}
		if len(sink.ids()) != snap.Processed {
			t.Errorf("committed %d but processed %d", len(sink.ids()), snap.Processed)
		}
	})

	t.Run("before any commit is failed", func(t *testing.T) {
		adapter := &fakeAdapter{pages: makePages(10, 5)}
		sink := &fakeSink{}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		job := testExecutor().Run(ctx, adapter, "tok", testRules(), sink, nil)

		snap := job.Snapshot()
		if snap.Status != StatusFailed {
			t.Fatalf("status = %s, want failed", snap.Status)
		}
		if snap.Processed != 0 {
			t.Errorf("processed = %d, want 0", snap.Processed)
		}
	})
}

func TestRunProgressOrdering(t *testing.T) {
	adapter := &fakeAdapter{pages: makePages(12, 3)}
	sink := &fakeSink{}

	var counts []int
	job := testExecutor().Run(context.Background(), adapter, "tok", testRules(), sink, func(processed int, total *int, latest *ItemError) {
		counts = append(counts, processed)
		if total == nil || *total != 12 {
			t.Errorf("total = %v at processed %d, want 12", total, processed)
		}
	})

	if job.Snapshot().Status != StatusCompleted {
		t.Fatalf("status = %s", job.Snapshot().Status)
	}
	if len(counts) != 12 {
		t.Fatalf("progress calls = %d, want 12", len(counts))
	}
	for i, c := range counts {
		if c != i+1 {
			t.Fatalf("progress counter not monotonic: %v", counts)
		}
	}
}

func TestStartAndWait(t *testing.T) {
	adapter := &fakeAdapter{pages: makePages(9, 3)}
	sink := &fakeSink{}

	job := testExecutor().Start(context.Background(), adapter, "tok", testRules(), sink, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s", snap.Status)
	}
	if snap.Processed != 9 {
		t.Errorf("processed = %d, want 9", snap.Processed)
	}
}

func TestRetryAfterWins(t *testing.T) {
	e := testExecutor()
	d := e.backoff(1, rateLimit(4*time.Millisecond))
	if d < 4*time.Millisecond {
		t.Errorf("backoff %v ignored Retry-After", d)
	}
	if d > e.BackoffCap+e.BackoffCap/4 {
		t.Errorf("backoff %v exceeds cap plus jitter", d)
	}
}

func TestBackoffCapped(t *testing.T) {
	e := &Executor{BackoffBase: time.Second, BackoffCap: 30 * time.Second, MaxAttempts: 10}
	for attempt := 1; attempt < 10; attempt++ {
		d := e.backoff(attempt, nil)
		if d > 30*time.Second+(30*time.Second)/4 {
			t.Fatalf("attempt %d: backoff %v exceeds cap plus jitter", attempt, d)
		}
		if d < time.Second {
			t.Fatalf("attempt %d: backoff %v below base", attempt, d)
		}
	}
}
