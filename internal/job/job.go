package job

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
	"github.com/vk/hopgrid/internal/trans"
	"github.com/vk/hopgrid/internal/variables"
	"golang.org/x/sync/errgroup"
)

// MaxEntryResults bounds the entry history kept per job run.
const MaxEntryResults = 1000

// ErrRecursiveJob is returned when a job would run inside itself.
var ErrRecursiveJob = errors.New("job is already running in the parent chain")

// EntryResult records one entry execution.
type EntryResult struct {
	Entry  string
	Type   string
	Nr     int
	Result *result.Result
	// Reason says why the entry ran.
	Reason string
	Start  time.Time
	End    time.Time
}

// Options configure a single job run.
type Options struct {
	// Parent is the calling job; nil for a top-level job.
	Parent *Job
	// Previous is the result the first entry receives.
	Previous *result.Result
	// Params are set in the job's own scope.
	Params map[string]string
}

// Job is one run of a job definition. It implements jobentry.Env for the
// entries it executes.
type Job struct {
	id     string
	meta   *config.Job
	ec     *engine.Context
	parent *Job
	scope  *variables.Scope
	prev   *result.Result
	logger *slog.Logger

	cancel  context.CancelFunc
	ctxMu   sync.Mutex
	stopped atomic.Bool
	nr      atomic.Int64
	state   atomic.Value

	mu      sync.Mutex
	history []EntryResult
	errs    []error

	started time.Time
	endedAt atomic.Int64
}

// New creates a run of meta. The job's scope is a child of the parent job's
// scope, or of the process scope for a top-level job.
func New(ec *engine.Context, meta *config.Job, opts Options) *Job {
	parentScope := ec.Process
	if opts.Parent != nil {
		parentScope = opts.Parent.scope
	}
	scope := variables.NewChild(parentScope)
	for k, v := range meta.Parameters {
		if _, ok := scope.Get(k); !ok {
			scope.Set(k, v)
		}
	}
	for k, v := range opts.Params {
		scope.Set(k, v)
	}
	j := &Job{
		id:     uuid.NewString(),
		meta:   meta,
		ec:     ec,
		parent: opts.Parent,
		scope:  scope,
		prev:   opts.Previous,
		logger: slog.Default(),
	}
	j.state.Store("created")
	return j
}

// ID returns the run identifier.
func (j *Job) ID() string { return j.id }

// JobName implements jobentry.Env.
func (j *Job) JobName() string { return j.meta.Name }

// Scope implements jobentry.Env.
func (j *Job) Scope() *variables.Scope { return j.scope }

// Logger implements jobentry.Env.
func (j *Job) Logger() *slog.Logger { return j.logger }

// Parent returns the calling job, nil for a top-level job.
func (j *Job) Parent() *Job { return j.parent }

// Stopped implements jobentry.Env.
func (j *Job) Stopped() bool { return j.stopped.Load() }

// Stop cancels the running entry and every nested run.
func (j *Job) Stop() {
	j.stopped.Store(true)
	j.ctxMu.Lock()
	defer j.ctxMu.Unlock()
	if j.cancel != nil {
		j.cancel()
	}
}

// Results returns the entries executed so far, oldest first.
func (j *Job) Results() []EntryResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]EntryResult(nil), j.history...)
}

// Execute runs the job from its start entry and returns the result of the
// last entry. The error joins every entry failure; the result reflects them
// as errors too.
func (j *Job) Execute(ctx context.Context) (*result.Result, error) {
	ctx, j.logger = ctxlog.With(ctx, "job", j.meta.Name, "run_id", j.id)

	fail := func(err error) (*result.Result, error) {
		j.state.Store("failed")
		res := result.New()
		res.LogChannelID = j.id
		res.Fail(1)
		j.logger.Error("Job failed to start.", "error", err)
		return res, err
	}
	if err := Validate(j.meta, j.ec.Registry); err != nil {
		return fail(err)
	}
	for p := j.parent; p != nil; p = p.parent {
		if p.meta.Name == j.meta.Name {
			return fail(fmt.Errorf("job '%s': %w", j.meta.Name, ErrRecursiveJob))
		}
	}
	start := j.meta.EntryByName(startEntryName(j.meta))
	rep, err := parseRepeat(start.Options)
	if err != nil {
		return fail(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.ctxMu.Lock()
	j.cancel = cancel
	j.ctxMu.Unlock()
	if j.stopped.Load() {
		cancel()
	}

	j.started = time.Now()
	j.state.Store("running")
	j.ec.Board.Started(j.id, j)
	j.logger.Info("🚀 Starting job.")

	first := result.New()
	if j.prev != nil {
		first = j.prev.Clone()
	}

	var res *result.Result
	for iteration := 1; ; iteration++ {
		res = j.walk(runCtx, start, first, "start")
		if !rep.again(iteration) || j.stopping(runCtx) {
			break
		}
		j.logger.Debug("Waiting for next iteration.", "iteration", iteration)
		if !rep.wait(runCtx) {
			break
		}
	}

	if res.NrErrors > 0 {
		res.Success = false
	}
	if j.stopping(runCtx) {
		res.Stopped = true
	}
	res.LogChannelID = j.id

	ended := time.Now()
	j.endedAt.Store(ended.UnixNano())
	switch {
	case res.Stopped:
		j.state.Store("stopped")
	case !res.Success:
		j.state.Store("failed")
	default:
		j.state.Store("finished")
	}
	j.ec.Board.Finished(j.id)
	j.logger.Info("🏁 Job ended.", "state", j.state.Load(), "success", res.Success, "errors", res.NrErrors, "duration", ended.Sub(j.started))

	j.mu.Lock()
	err = errors.Join(j.errs...)
	j.mu.Unlock()
	return res, err
}

func (j *Job) stopping(ctx context.Context) bool {
	return j.stopped.Load() || ctx.Err() != nil
}

// walk executes e and follows the first satisfied hop until none is left.
// A parallel entry runs all satisfied hops concurrently and returns their
// combined result.
func (j *Job) walk(ctx context.Context, e *config.Entry, prev *result.Result, reason string) *result.Result {
	for {
		if j.stopping(ctx) {
			res := prev.Clone()
			res.Stopped = true
			return res
		}
		res := j.executeEntry(ctx, e, prev, reason)
		next := j.satisfied(e.Name, res)
		switch {
		case len(next) == 0:
			return res
		case e.Parallel:
			return j.fanOut(ctx, e, next, res)
		}
		prev, reason = res, fmt.Sprintf("followed %s hop from '%s'", conditionOf(next[0].hop), e.Name)
		e = next[0].entry
	}
}

type target struct {
	hop   *config.JobHop
	entry *config.Entry
}

// satisfied returns the enabled hops out of from whose condition res meets,
// in declaration order.
func (j *Job) satisfied(from string, res *result.Result) []target {
	var out []target
	for _, h := range j.meta.Hops {
		if h.Disabled || h.From != from {
			continue
		}
		switch conditionOf(h) {
		case config.OnSuccess:
			if !res.Success {
				continue
			}
		case config.OnFailure:
			if res.Success {
				continue
			}
		}
		out = append(out, target{hop: h, entry: j.meta.EntryByName(h.To)})
	}
	return out
}

func (j *Job) fanOut(ctx context.Context, from *config.Entry, next []target, res *result.Result) *result.Result {
	j.logger.Debug("Launching parallel branches.", "entry", from.Name, "branches", len(next))
	results := make([]*result.Result, len(next))
	var g errgroup.Group
	for i, t := range next {
		g.Go(func() error {
			results[i] = j.walk(ctx, t.entry, res.Clone(), fmt.Sprintf("parallel branch from '%s'", from.Name))
			return nil
		})
	}
	_ = g.Wait()

	agg := result.New()
	agg.Nr = res.Nr
	for _, r := range results {
		agg.Add(r)
	}
	return agg
}

// executeEntry builds and runs one entry. The entry gets a private clone of
// prev with the error count reset unless it keeps errors.
func (j *Job) executeEntry(ctx context.Context, e *config.Entry, prev *result.Result, reason string) *result.Result {
	nr := int(j.nr.Add(1))
	ctx, logger := ctxlog.With(ctx, "entry", e.Name, "nr", nr)
	in := prev.Clone()
	if !e.KeepErrors {
		in.NrErrors = 0
	}

	logger.Debug("Executing job entry.", "type", e.Type, "reason", reason)
	start := time.Now()
	res, err := j.runEntry(ctx, e, in, nr)
	if res == nil {
		res = in
	}
	if err != nil {
		res.Fail(1)
		err = fmt.Errorf("job '%s', entry '%s': %w", j.meta.Name, e.Name, err)
		logger.Error("Job entry failed.", "error", err)
	}
	if res.NrErrors > 0 {
		res.Success = false
	}
	res.Nr = nr

	j.mu.Lock()
	if err != nil {
		j.errs = append(j.errs, err)
	}
	j.history = append(j.history, EntryResult{
		Entry:  e.Name,
		Type:   e.Type,
		Nr:     nr,
		Result: res.Clone(),
		Reason: reason,
		Start:  start,
		End:    time.Now(),
	})
	if len(j.history) > MaxEntryResults {
		j.history = j.history[len(j.history)-MaxEntryResults:]
	}
	j.mu.Unlock()

	logger.Debug("Job entry done.", "success", res.Success, "errors", res.NrErrors)
	return res
}

func (j *Job) runEntry(ctx context.Context, e *config.Entry, in *result.Result, nr int) (*result.Result, error) {
	factory, err := j.ec.Registry.EntryFactory(e.Type)
	if err != nil {
		return nil, err
	}
	entry, err := factory(j, e.Options)
	if err != nil {
		return nil, err
	}
	return entry.Execute(ctx, in, nr)
}

// SetVariable implements jobentry.Env. Root sets every job up to the top
// one; parent and grand-parent also set the levels below them.
func (j *Job) SetVariable(level variables.Level, name, value string) error {
	if j == nil {
		return variables.ErrNoJob
	}
	switch level {
	case variables.LevelProcess:
		j.ec.Process.Set(name, value)
	case variables.LevelRootJob:
		for p := j; p != nil; p = p.parent {
			p.scope.Set(name, value)
		}
	case variables.LevelCurrentJob:
		j.scope.Set(name, value)
	case variables.LevelParentJob:
		if j.parent == nil {
			return fmt.Errorf("set %s in job '%s': %w", name, j.meta.Name, variables.ErrNoParentJob)
		}
		j.scope.Set(name, value)
		j.parent.scope.Set(name, value)
	case variables.LevelGrandParentJob:
		if j.parent == nil || j.parent.parent == nil {
			return fmt.Errorf("set %s in job '%s': %w", name, j.meta.Name, variables.ErrNoGrandParentJob)
		}
		j.scope.Set(name, value)
		j.parent.scope.Set(name, value)
		j.parent.parent.scope.Set(name, value)
	default:
		return fmt.Errorf("set %s: unknown variable level %s", name, level)
	}
	return nil
}

// RunTransformation implements jobentry.Env.
func (j *Job) RunTransformation(ctx context.Context, name string, prev *result.Result, params map[string]string) (*result.Result, error) {
	meta, err := j.ec.Catalog.Transformation(name)
	if err != nil {
		return nil, err
	}
	tr := trans.New(j.ec, meta, trans.Options{Parent: j.scope, Previous: prev, Params: params})
	res, err := tr.Execute(ctx)
	if err != nil {
		return res, err
	}
	if terr := tr.Err(); terr != nil {
		j.logger.Warn("Transformation finished with errors.", "trans", name, "error", terr)
	}
	return res, nil
}

// RunJob implements jobentry.Env. The child holds a pointer to this job
// for the duration of the call only.
func (j *Job) RunJob(ctx context.Context, name string, prev *result.Result, params map[string]string) (*result.Result, error) {
	meta, err := j.ec.Catalog.Job(name)
	if err != nil {
		return nil, err
	}
	child := New(j.ec, meta, Options{Parent: j, Previous: prev, Params: params})
	return child.Execute(ctx)
}

// RunStatus implements engine.Observable. Every executed entry is reported
// as a step with its execution number as copy.
func (j *Job) RunStatus() engine.RunStatus {
	st := engine.RunStatus{
		ID:      j.id,
		Kind:    "job",
		Name:    j.meta.Name,
		State:   j.state.Load().(string),
		Started: j.started,
	}
	for _, er := range j.Results() {
		state := "success"
		if !er.Result.Success {
			state = "failed"
		}
		st.Errors += er.Result.NrErrors
		st.Steps = append(st.Steps, engine.StepStatus{
			Step:    er.Entry,
			Copy:    er.Nr,
			State:   state,
			Read:    er.Result.Lines.Read,
			Written: er.Result.Lines.Written,
			Errors:  er.Result.NrErrors,
		})
	}
	if n := j.endedAt.Load(); n != 0 {
		st.Finished = time.Unix(0, n)
	}
	return st
}
