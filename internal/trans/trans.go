package trans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
	"github.com/vk/hopgrid/internal/engine"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/rowset"
	"github.com/vk/hopgrid/internal/step"
	"github.com/vk/hopgrid/internal/variables"
	"golang.org/x/sync/errgroup"
)

// ErrNotPrepared is returned by Start before a successful Prepare.
var ErrNotPrepared = errors.New("transformation is not prepared")

// Options configure a single run.
type Options struct {
	// Parent is the enclosing scope; the process scope when nil.
	Parent *variables.Scope
	// Previous is the result handed over by the calling job.
	Previous *result.Result
	// Params are set in the transformation's own scope.
	Params map[string]string
}

// Trans is one run of a transformation.
type Trans struct {
	id     string
	meta   *config.Transformation
	ec     *engine.Context
	scope  *variables.Scope
	prev   *result.Result
	logger *slog.Logger

	listeners map[string][]step.RowListener
	workers   []*step.Worker
	rowsets   []*rowset.RowSet

	parentCtx context.Context
	runCtx    context.Context
	cancel    context.CancelFunc
	prepared  bool

	stopped atomic.Bool
	failed  atomic.Bool
	state   atomic.Value

	resMu       sync.Mutex
	resultRows  []result.Row
	resultFiles []result.File

	events   chan *step.Worker
	finished chan struct{}
	started  time.Time
	endedAt  atomic.Int64
}

// New creates a run of meta. Parameter defaults of meta are applied unless
// already visible through the parent scope; explicit Params always win.
func New(ec *engine.Context, meta *config.Transformation, opts Options) *Trans {
	parent := opts.Parent
	if parent == nil {
		parent = ec.Process
	}
	scope := variables.NewChild(parent)
	for k, v := range meta.Parameters {
		if _, ok := scope.Get(k); !ok {
			scope.Set(k, v)
		}
	}
	for k, v := range opts.Params {
		scope.Set(k, v)
	}

	t := &Trans{
		id:        uuid.NewString(),
		meta:      meta,
		ec:        ec,
		scope:     scope,
		prev:      opts.Previous,
		listeners: make(map[string][]step.RowListener),
		finished:  make(chan struct{}),
	}
	t.state.Store("created")
	return t
}

// ID returns the run identifier.
func (t *Trans) ID() string { return t.id }

// Name returns the transformation name.
func (t *Trans) Name() string { return t.meta.Name }

// Scope returns the run's variable scope.
func (t *Trans) Scope() *variables.Scope { return t.scope }

// Workers returns the step copies; empty before Prepare.
func (t *Trans) Workers() []*step.Worker { return t.workers }

// AddRowListener observes every copy of the named step. Call before Prepare.
func (t *Trans) AddRowListener(stepName string, l step.RowListener) {
	t.listeners[stepName] = append(t.listeners[stepName], l)
}

// Execute prepares, starts and waits for the run. The error is non-nil only
// when the run could not be prepared; failures while rows move are reported
// through the result.
func (t *Trans) Execute(ctx context.Context) (*result.Result, error) {
	if err := t.Prepare(ctx); err != nil {
		res := t.Result()
		if res.NrErrors == 0 {
			res.Fail(1)
		}
		res.Success = false
		return res, err
	}
	if err := t.Start(); err != nil {
		return nil, err
	}
	t.WaitUntilFinished()
	return t.Result(), nil
}

// Prepare validates the graph, allocates the RowSets and initializes every
// step copy concurrently. If any copy fails to initialize, all copies are
// disposed and the joined init errors are returned.
func (t *Trans) Prepare(ctx context.Context) error {
	ctx, t.logger = ctxlog.With(ctx, "trans", t.meta.Name, "run_id", t.id)
	t.logger.Debug("Preparing transformation.")

	if err := Validate(t.meta, t.ec.Registry); err != nil {
		t.state.Store("failed")
		return err
	}

	t.parentCtx = ctx
	t.runCtx, t.cancel = context.WithCancel(ctx)
	if err := t.build(); err != nil {
		t.cancel()
		t.state.Store("failed")
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, w := range t.workers {
		g.Go(func() error {
			if err := w.Init(t.runCtx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		for _, w := range t.workers {
			w.Dispose(t.runCtx)
		}
		t.cancel()
		t.failed.Store(true)
		t.state.Store("failed")
		err := fmt.Errorf("transformation '%s': %d step copies failed to initialize: %w", t.meta.Name, len(errs), errors.Join(errs...))
		t.logger.Error("Transformation preparation failed.", "error", err)
		return err
	}

	t.prepared = true
	t.state.Store("prepared")
	t.logger.Debug("Transformation prepared.", "copies", len(t.workers), "rowsets", len(t.rowsets))
	return nil
}

// build creates one RowSet per (producer copy, consumer copy) pair of every
// enabled hop and one worker per step copy.
func (t *Trans) build() error {
	capacity := t.ec.RowSetCapacity(t.meta)
	outputs := make(map[rowset.CopyID][]*step.Output)
	errOutputs := make(map[rowset.CopyID]*step.Output)
	inputs := make(map[rowset.CopyID][]*rowset.RowSet)

	for _, h := range t.meta.Hops {
		if h.Disabled {
			continue
		}
		from, to := t.meta.StepByName(h.From), t.meta.StepByName(h.To)
		for pc := 0; pc < copiesOf(from); pc++ {
			producer := rowset.CopyID{Step: from.Name, Copy: pc}
			out := &step.Output{Target: to.Name, Distribution: distributionOf(h)}
			if h.Error {
				out.Distribution = config.RoundRobin
			}
			for cc := 0; cc < copiesOf(to); cc++ {
				consumer := rowset.CopyID{Step: to.Name, Copy: cc}
				rs := rowset.New(producer, consumer, capacity)
				t.rowsets = append(t.rowsets, rs)
				out.Sets = append(out.Sets, rs)
				inputs[consumer] = append(inputs[consumer], rs)
			}
			if h.Error {
				errOutputs[producer] = out
			} else {
				outputs[producer] = append(outputs[producer], out)
			}
		}
	}

	for _, s := range t.meta.Steps {
		for c := 0; c < copiesOf(s); c++ {
			id := rowset.CopyID{Step: s.Name, Copy: c}
			impl, err := t.ec.Registry.NewStep(s.Type)
			if err != nil {
				return fmt.Errorf("step '%s': %w", s.Name, err)
			}
			sc := step.NewContext(step.Config{
				ID:          id,
				Step:        s,
				Scope:       t.scope,
				Logger:      t.logger.With("step", s.Name, "copy", c),
				Host:        t,
				Inputs:      inputs[id],
				Outputs:     outputs[id],
				ErrorOutput: errOutputs[id],
			})
			for _, l := range t.listeners[s.Name] {
				sc.AddRowListener(l)
			}
			t.workers = append(t.workers, step.NewWorker(impl, sc))
		}
	}
	return nil
}

// Start launches one goroutine per step copy and the monitor.
func (t *Trans) Start() error {
	if !t.prepared {
		return ErrNotPrepared
	}
	t.started = time.Now()
	t.state.Store("running")
	t.ec.Board.Started(t.id, t)
	t.logger.Info("🚀 Starting transformation.", "copies", len(t.workers))

	t.events = make(chan *step.Worker, len(t.workers))
	for _, w := range t.workers {
		go func() {
			w.Run(t.runCtx)
			t.events <- w
		}()
	}
	go t.monitor()
	return nil
}

// monitor waits for every copy to end. The first failed copy stops all others.
func (t *Trans) monitor() {
	for remaining := len(t.workers); remaining > 0; remaining-- {
		w := <-t.events
		if w.Outcome() == step.StateFailed && !t.failed.Swap(true) {
			t.logger.Warn("Step copy failed, stopping transformation.", "step", w.Context().ID().String())
			t.StopAll()
		}
	}
	ended := time.Now()
	t.endedAt.Store(ended.UnixNano())
	t.cancel()

	switch {
	case t.failed.Load():
		t.state.Store("failed")
	case t.stopped.Load() || t.parentCtx.Err() != nil:
		t.state.Store("stopped")
	default:
		t.state.Store("finished")
	}
	t.ec.Board.Finished(t.id)
	t.logger.Info("🏁 Transformation ended.", "state", t.state.Load(), "duration", ended.Sub(t.started))
	close(t.finished)
}

// WaitUntilFinished blocks until every copy has ended.
func (t *Trans) WaitUntilFinished() {
	if !t.prepared {
		return
	}
	<-t.finished
}

// Finished is closed when the run has ended.
func (t *Trans) Finished() <-chan struct{} { return t.finished }

// Stop requests a cooperative stop of the run.
func (t *Trans) Stop() {
	t.stopped.Store(true)
	t.StopAll()
}

// StopAll sets the stop flag of every copy and wakes blocked RowSet waits.
func (t *Trans) StopAll() {
	for _, w := range t.workers {
		w.Stop()
	}
	if t.cancel != nil {
		t.cancel()
	}
}

// PreviousResult implements step.Host.
func (t *Trans) PreviousResult() *result.Result { return t.prev }

// AddResultRow implements step.Host.
func (t *Trans) AddResultRow(meta *row.Meta, r row.Row) {
	t.resMu.Lock()
	defer t.resMu.Unlock()
	t.resultRows = append(t.resultRows, result.Row{Meta: meta, Row: r})
}

// AddResultFile implements step.Host.
func (t *Trans) AddResultFile(f result.File) {
	t.resMu.Lock()
	defer t.resMu.Unlock()
	t.resultFiles = append(t.resultFiles, f)
}

// Result aggregates the counters of every copy. Success means no copy
// failed and no errors were counted.
func (t *Trans) Result() *result.Result {
	res := result.New()
	res.LogChannelID = t.id
	for _, w := range t.workers {
		c := w.Context().Counters()
		res.Lines.Read += c.Read
		res.Lines.Written += c.Written
		res.Lines.Input += c.Input
		res.Lines.Output += c.Output
		res.Lines.Updated += c.Updated
		res.Lines.Rejected += c.Rejected
		res.NrErrors += c.Errors
	}

	t.resMu.Lock()
	res.Rows = append(res.Rows, t.resultRows...)
	for _, f := range t.resultFiles {
		res.AddFile(f)
	}
	t.resMu.Unlock()

	res.Stopped = t.stopped.Load() || (t.parentCtx != nil && t.parentCtx.Err() != nil)
	res.Success = res.NrErrors == 0 && !t.failed.Load()
	return res
}

// Err joins the errors of all failed copies.
func (t *Trans) Err() error {
	var errs []error
	for _, w := range t.workers {
		if w.Outcome() == step.StateFailed && w.Err() != nil {
			errs = append(errs, w.Err())
		}
	}
	return errors.Join(errs...)
}

// StepStatuses returns a snapshot of every copy.
func (t *Trans) StepStatuses() []engine.StepStatus {
	out := make([]engine.StepStatus, 0, len(t.workers))
	for _, w := range t.workers {
		c := w.Context().Counters()
		state := w.State()
		if o := w.Outcome(); o != step.StateCreated {
			state = o
		}
		out = append(out, engine.StepStatus{
			Step:     w.Context().Name(),
			Copy:     w.Context().Copy(),
			State:    state.String(),
			Read:     c.Read,
			Written:  c.Written,
			Rejected: c.Rejected,
			Errors:   c.Errors,
		})
	}
	return out
}

// RunStatus implements engine.Observable.
func (t *Trans) RunStatus() engine.RunStatus {
	steps := t.StepStatuses()
	var errs int64
	for _, s := range steps {
		errs += s.Errors
	}
	st := engine.RunStatus{
		ID:      t.id,
		Kind:    "transformation",
		Name:    t.meta.Name,
		State:   t.state.Load().(string),
		Started: t.started,
		Errors:  errs,
		Steps:   steps,
	}
	if n := t.endedAt.Load(); n != 0 {
		st.Finished = time.Unix(0, n)
	}
	return st
}
