// Package wizard orchestrates the import flow as a guarded linear state
// machine: SOURCE -> AUTH -> MAPPING -> IMPORT. Transition legality lives
// here, independent of any UI.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jyang234/taskport/internal/auth"
	"github.com/jyang234/taskport/internal/importer"
	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/registry"
)

// Step identifies a wizard step.
type Step string

const (
	StepSource  Step = "source"
	StepAuth    Step = "auth"
	StepMapping Step = "mapping"
	StepImport  Step = "import"
)

var (
	// ErrNoSource gates SOURCE -> AUTH.
	ErrNoSource = errors.New("no source selected")

	// ErrImportStarted is returned for any transition request once the
	// import step has been entered; the flow is terminal from there.
	ErrImportStarted = errors.New("import already started; transitions are disabled")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wizard session is closed")

	// ErrNoPriorStep is returned for Back on the first step.
	ErrNoPriorStep = errors.New("already on the first step")

	// ErrWrongStep is returned when state is set from the wrong step.
	ErrWrongStep = errors.New("not on the right step for this input")
)

// MappingInvalidError carries every mapping validation failure so the UI can
// show all of them at once.
type MappingInvalidError struct {
	Errors []*mapping.Error
}

func (e *MappingInvalidError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// AdapterFactory builds the adapter for a provider id.
type AdapterFactory func(id string) (provider.Adapter, error)

// Deps holds the collaborators a Controller needs.
type Deps struct {
	Validator  *auth.Validator
	Executor   *importer.Executor
	Sink       importer.Sink
	Adapters   AdapterFactory
	OnProgress importer.Progress
}

// Controller owns the transient state of one wizard session. All state is
// discarded when the session closes before an import starts; a started import
// job outlives the session.
type Controller struct {
	deps Deps

	mu         sync.Mutex
	step       Step
	closed     bool
	source     *registry.Descriptor
	adapter    provider.Adapter
	credential string
	validated  *auth.ValidatedCredential
	rules      []mapping.Rule
	job        *importer.Job
	cancelJob  context.CancelFunc
}

// New creates a controller positioned on the SOURCE step.
func New(deps Deps) *Controller {
	return &Controller{deps: deps, step: StepSource}
}

// Step returns the current step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// SelectSource picks the provider to import from. Only legal on the SOURCE
// step. Changing the source invalidates any prior credential validation and
// reseeds the default mapping.
func (c *Controller) SelectSource(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(StepSource); err != nil {
		return err
	}

	desc, err := registry.Describe(id)
	if err != nil {
		return err
	}
	adapter, err := c.deps.Adapters(id)
	if err != nil {
		return err
	}

	if c.source == nil || c.source.ID != id {
		c.validated = nil
		c.rules = adapter.DefaultRules()
	}
	c.source = &desc
	c.adapter = adapter
	return nil
}

// SetCredential stores the credential entered on the AUTH step. A changed
// credential invalidates any prior validation result.
func (c *Controller) SetCredential(credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(StepAuth); err != nil {
		return err
	}
	if credential != c.credential {
		c.validated = nil
	}
	c.credential = credential
	return nil
}

// SetRules replaces the mapping rules on the MAPPING step.
func (c *Controller) SetRules(rules []mapping.Rule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(StepMapping); err != nil {
		return err
	}
	c.rules = rules
	return nil
}

// Rules returns the current mapping rules.
func (c *Controller) Rules() []mapping.Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mapping.Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// editable checks that state for the given step may be modified.
func (c *Controller) editable(step Step) error {
	if c.closed {
		return ErrClosed
	}
	if c.step == StepImport {
		return ErrImportStarted
	}
	if c.step != step {
		return fmt.Errorf("%w: on %s, input belongs to %s", ErrWrongStep, c.step, step)
	}
	return nil
}

// Next advances to the following step if its guard passes. Entering IMPORT
// starts the executor immediately; from then on all transitions are disabled.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	step := c.step
	c.mu.Unlock()

	switch step {
	case StepSource:
		return c.advance(StepSource, StepAuth, c.guardSource())
	case StepAuth:
		return c.advance(StepAuth, StepMapping, c.guardAuth(ctx))
	case StepMapping:
		if err := c.advance(StepMapping, StepImport, c.guardMapping()); err != nil {
			return err
		}
		c.startImport()
		return nil
	default:
		return ErrImportStarted
	}
}

// advance commits a transition if its guard passed and the session did not
// move underneath the guard (auth probes run unlocked).
func (c *Controller) advance(from, to Step, guardErr error) error {
	if guardErr != nil {
		return guardErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.step != from {
		return fmt.Errorf("%w: step changed during transition", ErrWrongStep)
	}
	c.step = to
	return nil
}

func (c *Controller) guardSource() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return ErrNoSource
	}
	return nil
}

// guardAuth validates the current (source, credential) pair. A result cached
// from a previous pass is reused; it is cleared whenever the source or
// credential changes.
func (c *Controller) guardAuth(ctx context.Context) error {
	c.mu.Lock()
	if c.validated != nil {
		c.mu.Unlock()
		return nil
	}
	desc := *c.source
	adapter := c.adapter
	credential := c.credential
	c.mu.Unlock()

	validated, err := c.deps.Validator.Validate(ctx, desc, adapter, credential)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credential == credential && c.source != nil && c.source.ID == desc.ID {
		c.validated = validated
	}
	return nil
}

func (c *Controller) guardMapping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validated == nil {
		// Back to AUTH cleared the validation; MAPPING cannot be active
		// without it.
		return &auth.Error{Kind: auth.KindEmpty}
	}
	if errs := mapping.Validate(c.rules); len(errs) > 0 {
		return &MappingInvalidError{Errors: errs}
	}
	return nil
}

// startImport launches the executor on a context detached from the session,
// so closing the wizard does not cancel the job.
func (c *Controller) startImport() {
	c.mu.Lock()
	defer c.mu.Unlock()

	jobCtx, cancel := context.WithCancel(context.Background())
	c.cancelJob = cancel
	c.job = c.deps.Executor.Start(jobCtx, c.adapter, c.validated.Secret(), c.rules, c.deps.Sink, c.deps.OnProgress)
}

// Back returns to the previous step without discarding entered data.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	switch c.step {
	case StepAuth:
		c.step = StepSource
	case StepMapping:
		c.step = StepAuth
	case StepImport:
		return ErrImportStarted
	default:
		return ErrNoPriorStep
	}
	return nil
}

// Close discards the session. A job that already started keeps running;
// everything else is dropped with no side effects.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.credential = ""
	c.validated = nil
	c.rules = nil
}

// CancelImport requests cancellation of a running job. The executor honors
// it between records; the job terminates partial (or failed if nothing
// committed).
func (c *Controller) CancelImport() {
	c.mu.Lock()
	cancel := c.cancelJob
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Job returns the import job, or nil before the IMPORT step.
func (c *Controller) Job() *importer.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// State is a display-safe snapshot of the session. The credential only ever
// appears masked.
type State struct {
	Step             Step   `json:"step"`
	SourceID         string `json:"source_id,omitempty"`
	MaskedCredential string `json:"credential,omitempty"`
	Account          string `json:"account,omitempty"`
	RuleCount        int    `json:"rule_count"`
	JobID            string `json:"job_id,omitempty"`
	Closed           bool   `json:"closed,omitempty"`
}

// State returns the current session state for display.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{Step: c.step, RuleCount: len(c.rules), Closed: c.closed}
	if c.source != nil {
		s.SourceID = c.source.ID
	}
	if c.credential != "" {
		s.MaskedCredential = auth.MaskSecret(c.credential)
	}
	if c.validated != nil {
		s.Account = c.validated.AccountID
	}
	if c.job != nil {
		s.JobID = c.job.ID()
	}
	return s
}
