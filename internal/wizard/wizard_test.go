package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jyang234/taskport/internal/auth"
	"github.com/jyang234/taskport/internal/importer"
	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/registry"
	"github.com/jyang234/taskport/internal/task"
)

// wizAdapter is a scripted provider for driving the state machine.
type wizAdapter struct {
	id        string
	authErr   error
	authCalls int
	pages     []*provider.Page
}

func (a *wizAdapter) ID() string { return a.id }

func (a *wizAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	a.authCalls++
	if a.authErr != nil {
		return "", a.authErr
	}
	return "tester", nil
}

func (a *wizAdapter) FetchPage(ctx context.Context, credential, cursor string) (*provider.Page, error) {
	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	return a.pages[idx], nil
}

func (a *wizAdapter) DefaultRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "title", TargetField: task.FieldTitle, Required: true},
		{SourceField: "state", TargetField: task.FieldStatus, Required: true},
	}
}

func onePage(n int) []*provider.Page {
	page := &provider.Page{Total: &n}
	for i := 0; i < n; i++ {
		page.Records = append(page.Records, provider.RawRecord{
			"id":    fmt.Sprintf("r%d", i+1),
			"title": fmt.Sprintf("task %d", i+1),
			"state": "open",
		})
	}
	return []*provider.Page{page}
}

type memSink struct {
	mu        sync.Mutex
	committed int
}

func (s *memSink) Commit(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed++
	return nil
}

func newController(adapter *wizAdapter) (*Controller, *memSink) {
	sink := &memSink{}
	c := New(Deps{
		Validator: auth.NewValidator(),
		Executor: &importer.Executor{
			FetchAhead:  2,
			MaxAttempts: 2,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
		Sink: sink,
		Adapters: func(id string) (provider.Adapter, error) {
			if id != adapter.id {
				return nil, fmt.Errorf("no adapter for %s", id)
			}
			return adapter, nil
		},
	})
	return c, sink
}

func mustNext(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Next(context.Background()); err != nil {
		t.Fatalf("Next from %s failed: %v", c.Step(), err)
	}
}

func TestSourceStep(t *testing.T) {
	t.Run("next without a source is refused", func(t *testing.T) {
		c, _ := newController(&wizAdapter{id: registry.Jira})
		if err := c.Next(context.Background()); !errors.Is(err, ErrNoSource) {
			t.Fatalf("err = %v, want ErrNoSource", err)
		}
		if c.Step() != StepSource {
			t.Errorf("refused transition must not move: step = %s", c.Step())
		}
	})

	t.Run("unknown provider is rejected", func(t *testing.T) {
		c, _ := newController(&wizAdapter{id: registry.Jira})
		err := c.SelectSource("bitbucket")
		var upe *registry.UnknownProviderError
		if !errors.As(err, &upe) {
			t.Fatalf("err = %v, want UnknownProviderError", err)
		}
	})

	t.Run("selecting a source seeds default rules", func(t *testing.T) {
		c, _ := newController(&wizAdapter{id: registry.Jira})
		if err := c.SelectSource(registry.Jira); err != nil {
			t.Fatal(err)
		}
		if len(c.Rules()) != 2 {
			t.Errorf("rules = %d, want the adapter defaults", len(c.Rules()))
		}
	})

	t.Run("credential input is refused on the source step", func(t *testing.T) {
		c, _ := newController(&wizAdapter{id: registry.Jira})
		if err := c.SetCredential("tok"); !errors.Is(err, ErrWrongStep) {
			t.Fatalf("err = %v, want ErrWrongStep", err)
		}
	})
}

func TestAuthStep(t *testing.T) {
	t.Run("empty credential blocks the transition", func(t *testing.T) {
		c, _ := newController(&wizAdapter{id: registry.Jira})
		c.SelectSource(registry.Jira)
		mustNext(t, c)

		err := c.Next(context.Background())
		var ae *auth.Error
		if !errors.As(err, &ae) || ae.Kind != auth.KindEmpty {
			t.Fatalf("err = %v, want auth empty", err)
		}
		if c.Step() != StepAuth {
			t.Errorf("step = %s", c.Step())
		}
	})

	t.Run("rejected credential blocks the transition", func(t *testing.T) {
		adapter := &wizAdapter{
			id:      registry.Jira,
			authErr: &provider.Error{Provider: registry.Jira, Kind: provider.KindUnauthorized, Status: 401},
		}
		c, _ := newController(adapter)
		c.SelectSource(registry.Jira)
		mustNext(t, c)
		c.SetCredential("bad-token")

		err := c.Next(context.Background())
		var ae *auth.Error
		if !errors.As(err, &ae) || ae.Kind != auth.KindRejected {
			t.Fatalf("err = %v, want auth rejected", err)
		}
	})

	t.Run("validation is cached until the credential changes", func(t *testing.T) {
		adapter := &wizAdapter{id: registry.Jira, pages: onePage(1)}
		c, _ := newController(adapter)
		c.SelectSource(registry.Jira)
		mustNext(t, c)
		c.SetCredential("token-one")
		mustNext(t, c)

		if adapter.authCalls != 1 {
			t.Fatalf("authCalls = %d, want 1", adapter.authCalls)
		}

		// Back and forward with the same credential reuses the result.
		if err := c.Back(); err != nil {
			t.Fatal(err)
		}
		if err := c.SetCredential("token-one"); err != nil {
			t.Fatal(err)
		}
		mustNext(t, c)
		if adapter.authCalls != 1 {
			t.Errorf("unchanged credential revalidated: authCalls = %d", adapter.authCalls)
		}

		// A different credential invalidates the cache.
		c.Back()
		c.SetCredential("token-two")
		mustNext(t, c)
		if adapter.authCalls != 2 {
			t.Errorf("changed credential not revalidated: authCalls = %d", adapter.authCalls)
		}
	})

	t.Run("reselecting the same source keeps validation", func(t *testing.T) {
		adapter := &wizAdapter{id: registry.CSV, pages: onePage(1)}
		c, _ := newController(adapter)
		c.SelectSource(registry.CSV)
		mustNext(t, c)
		mustNext(t, c) // csv validates without a credential
		if c.Step() != StepMapping {
			t.Fatalf("step = %s", c.Step())
		}

		c.Back()
		c.Back()
		if err := c.SelectSource(registry.CSV); err != nil {
			t.Fatal(err)
		}
		mustNext(t, c)
		mustNext(t, c)
		if adapter.authCalls != 1 {
			t.Errorf("authCalls = %d, want 1", adapter.authCalls)
		}
	})

	t.Run("changing the source invalidates validation", func(t *testing.T) {
		adapters := map[string]*wizAdapter{
			registry.Jira: {id: registry.Jira, pages: onePage(1)},
			registry.CSV:  {id: registry.CSV, pages: onePage(1)},
		}
		sink := &memSink{}
		c := New(Deps{
			Validator: auth.NewValidator(),
			Executor:  importer.NewExecutor(),
			Sink:      sink,
			Adapters: func(id string) (provider.Adapter, error) {
				a, ok := adapters[id]
				if !ok {
					return nil, fmt.Errorf("no adapter for %s", id)
				}
				return a, nil
			},
		})

		c.SelectSource(registry.Jira)
		mustNext(t, c)
		c.SetCredential("tok-123456")
		mustNext(t, c)
		if adapters[registry.Jira].authCalls != 1 {
			t.Fatalf("jira authCalls = %d", adapters[registry.Jira].authCalls)
		}

		c.Back()
		c.Back()
		if err := c.SelectSource(registry.CSV); err != nil {
			t.Fatal(err)
		}
		mustNext(t, c)
		mustNext(t, c)
		if adapters[registry.CSV].authCalls != 1 {
			t.Errorf("new source not validated: authCalls = %d", adapters[registry.CSV].authCalls)
		}
		if c.Step() != StepMapping {
			t.Errorf("step = %s", c.Step())
		}
	})
}

func TestMappingStep(t *testing.T) {
	setup := func(t *testing.T) *Controller {
		t.Helper()
		c, _ := newController(&wizAdapter{id: registry.Jira, pages: onePage(1)})
		c.SelectSource(registry.Jira)
		mustNext(t, c)
		c.SetCredential("tok-123456")
		mustNext(t, c)
		return c
	}

	t.Run("invalid rules report every problem", func(t *testing.T) {
		c := setup(t)
		if err := c.SetRules([]mapping.Rule{
			{SourceField: "summary", TargetField: "headline"},
		}); err != nil {
			t.Fatal(err)
		}

		err := c.Next(context.Background())
		var mie *MappingInvalidError
		if !errors.As(err, &mie) {
			t.Fatalf("err = %v, want MappingInvalidError", err)
		}
		// Unknown target plus both missing required fields.
		if len(mie.Errors) != 3 {
			t.Errorf("errors = %d, want 3: %v", len(mie.Errors), err)
		}
		if c.Step() != StepMapping {
			t.Errorf("step = %s", c.Step())
		}
	})

	t.Run("back keeps entered rules", func(t *testing.T) {
		c := setup(t)
		custom := []mapping.Rule{
			{SourceField: "title", TargetField: task.FieldTitle, Required: true},
			{SourceField: "state", TargetField: task.FieldStatus, Required: true},
			{SourceField: "who", TargetField: task.FieldAssignee},
		}
		if err := c.SetRules(custom); err != nil {
			t.Fatal(err)
		}
		c.Back()
		mustNext(t, c)
		if len(c.Rules()) != 3 {
			t.Errorf("rules lost across back: %d", len(c.Rules()))
		}
	})
}

func TestImportStep(t *testing.T) {
	start := func(t *testing.T, adapter *wizAdapter) (*Controller, *memSink) {
		t.Helper()
		c, sink := newController(adapter)
		c.SelectSource(adapter.id)
		mustNext(t, c)
		c.SetCredential("tok-123456")
		mustNext(t, c)
		mustNext(t, c)
		return c, sink
	}

	t.Run("entering import starts the job", func(t *testing.T) {
		adapter := &wizAdapter{id: registry.Jira, pages: onePage(5)}
		c, sink := start(t, adapter)

		if c.Step() != StepImport {
			t.Fatalf("step = %s", c.Step())
		}
		job := c.Job()
		if job == nil {
			t.Fatal("no job after entering import")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := job.Wait(ctx); err != nil {
			t.Fatal(err)
		}
		snap := job.Snapshot()
		if snap.Status != importer.StatusCompleted {
			t.Fatalf("status = %s (%s)", snap.Status, snap.Failure)
		}
		if sink.committed != 5 {
			t.Errorf("committed = %d, want 5", sink.committed)
		}
	})

	t.Run("import is terminal", func(t *testing.T) {
		c, _ := start(t, &wizAdapter{id: registry.Jira, pages: onePage(1)})

		if err := c.Next(context.Background()); !errors.Is(err, ErrImportStarted) {
			t.Errorf("Next: %v", err)
		}
		if err := c.Back(); !errors.Is(err, ErrImportStarted) {
			t.Errorf("Back: %v", err)
		}
		if err := c.SetCredential("x"); !errors.Is(err, ErrImportStarted) {
			t.Errorf("SetCredential: %v", err)
		}
		if err := c.SelectSource(registry.Jira); !errors.Is(err, ErrImportStarted) {
			t.Errorf("SelectSource: %v", err)
		}
	})

	t.Run("job survives session close", func(t *testing.T) {
		adapter := &wizAdapter{id: registry.Jira, pages: onePage(3)}
		c, sink := start(t, adapter)
		job := c.Job()
		c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := job.Wait(ctx); err != nil {
			t.Fatal(err)
		}
		if job.Snapshot().Status != importer.StatusCompleted {
			t.Fatalf("status = %s", job.Snapshot().Status)
		}
		if sink.committed != 3 {
			t.Errorf("committed = %d", sink.committed)
		}
	})
}

func TestBack(t *testing.T) {
	c, _ := newController(&wizAdapter{id: registry.Jira})
	if err := c.Back(); !errors.Is(err, ErrNoPriorStep) {
		t.Fatalf("err = %v, want ErrNoPriorStep", err)
	}

	c.SelectSource(registry.Jira)
	mustNext(t, c)
	c.SetCredential("tok-123456")
	if err := c.Back(); err != nil {
		t.Fatal(err)
	}
	if c.Step() != StepSource {
		t.Errorf("step = %s", c.Step())
	}

	// Data entered so far is preserved.
	mustNext(t, c)
	if got := c.State().MaskedCredential; got == "" {
		t.Error("credential lost across back")
	}
}

func TestClose(t *testing.T) {
	c, _ := newController(&wizAdapter{id: registry.Jira})
	c.Close()

	if err := c.SelectSource(registry.Jira); !errors.Is(err, ErrClosed) {
		t.Errorf("SelectSource: %v", err)
	}
	if err := c.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next: %v", err)
	}
	if err := c.Back(); !errors.Is(err, ErrClosed) {
		t.Errorf("Back: %v", err)
	}
	if !c.State().Closed {
		t.Error("state should report closed")
	}
}

func TestStateMasksCredential(t *testing.T) {
	c, _ := newController(&wizAdapter{id: registry.Jira})
	c.SelectSource(registry.Jira)
	mustNext(t, c)

	secret := "very-secret-token-value"
	c.SetCredential(secret)

	s := c.State()
	if s.MaskedCredential == secret {
		t.Fatal("state must never carry the raw credential")
	}
	if !strings.Contains(s.MaskedCredential, "****") {
		t.Errorf("masked credential = %q", s.MaskedCredential)
	}
}

func TestCancelImport(t *testing.T) {
	// Many pages so cancellation lands mid-run.
	var pages []*provider.Page
	total := 200
	for p := 0; p < 20; p++ {
		page := &provider.Page{Total: &total}
		for i := 0; i < 10; i++ {
			page.Records = append(page.Records, provider.RawRecord{
				"id":    fmt.Sprintf("r%d", p*10+i+1),
				"title": "t",
				"state": "open",
			})
		}
		if p < 19 {
			page.NextCursor = strconv.Itoa(p + 1)
		}
		pages = append(pages, page)
	}
	adapter := &wizAdapter{id: registry.Jira, pages: pages}

	sink := &memSink{}
	var c *Controller
	c = New(Deps{
		Validator: auth.NewValidator(),
		Executor: &importer.Executor{
			FetchAhead:  2,
			MaxAttempts: 2,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
		Sink:     sink,
		Adapters: func(id string) (provider.Adapter, error) { return adapter, nil },
		OnProgress: func(processed int, totalPtr *int, latest *importer.ItemError) {
			if processed == 10 {
				c.CancelImport()
			}
		},
	})

	c.SelectSource(registry.Jira)
	mustNext(t, c)
	c.SetCredential("tok-123456")
	mustNext(t, c)
	mustNext(t, c)

	job := c.Job()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	snap := job.Snapshot()
	if snap.Status != importer.StatusPartial {
		t.Fatalf("status = %s, want partial (%s)", snap.Status, snap.Failure)
	}
	if snap.Processed == 0 || snap.Processed == total {
		t.Errorf("processed = %d, want a partial count", snap.Processed)
	}
}
