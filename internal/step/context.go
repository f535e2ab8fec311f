package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/rowset"
	"github.com/vk/hopgrid/internal/variables"
)

// Output is the group of RowSets a copy writes to for one outgoing hop.
type Output struct {
	Target       string
	Distribution config.Distribution
	Sets         []*rowset.RowSet
	next         int
}

// Counters is a snapshot of a copy's row counters.
type Counters struct {
	Read     int64
	Written  int64
	Input    int64
	Output   int64
	Updated  int64
	Rejected int64
	Errors   int64
}

// Config wires a Context to its transformation.
type Config struct {
	ID          rowset.CopyID
	Step        *config.Step
	Scope       *variables.Scope
	Logger      *slog.Logger
	Host        Host
	Inputs      []*rowset.RowSet
	Outputs     []*Output
	ErrorOutput *Output
}

// Context is the kernel handle a step copy uses to read, write and reject
// rows. It is owned by the copy's goroutine; only the counters and the stop
// flag are read from other goroutines.
type Context struct {
	id        rowset.CopyID
	meta      *config.Step
	options   config.Options
	scope     *variables.Scope
	logger    *slog.Logger
	host      Host
	inputs    []*rowset.RowSet
	outputs   []*Output
	errOut    *Output
	errConf   *config.ErrorHandling
	notify    chan struct{}
	nextInput int
	listeners []RowListener

	binder     SchemaBinder
	bound      bool
	inputMeta  *row.Meta
	outputMeta *row.Meta
	errorMeta  *row.Meta
	errorBase  *row.Meta

	current     row.Row
	currentMeta *row.Meta

	stopped atomic.Bool

	read, written, input, output, updated, rejected, errs atomic.Int64
}

// NewContext builds the handle for one step copy.
func NewContext(cfg Config) *Context {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sc := &Context{
		id:      cfg.ID,
		meta:    cfg.Step,
		scope:   cfg.Scope,
		logger:  logger,
		host:    cfg.Host,
		inputs:  cfg.Inputs,
		outputs: cfg.Outputs,
		errOut:  cfg.ErrorOutput,
	}
	if cfg.Step != nil {
		sc.options = cfg.Step.Options
		sc.errConf = cfg.Step.ErrorHandling
	}
	if sc.options == nil {
		sc.options = config.Options{}
	}
	if sc.scope == nil {
		sc.scope = variables.NewProcess(nil)
	}
	if len(sc.inputs) > 1 {
		sc.notify = make(chan struct{}, 1)
		for _, rs := range sc.inputs {
			rs.Notify(sc.notify)
		}
	}
	return sc
}

// Name returns the step name.
func (sc *Context) Name() string { return sc.id.Step }

// Copy returns the copy number, starting at 0.
func (sc *Context) Copy() int { return sc.id.Copy }

// ID returns the copy identity.
func (sc *Context) ID() rowset.CopyID { return sc.id }

// Options returns the step's configured options.
func (sc *Context) Options() config.Options { return sc.options }

// Scope returns the variable scope of the transformation.
func (sc *Context) Scope() *variables.Scope { return sc.scope }

// Expand resolves ${VAR} references against the scope.
func (sc *Context) Expand(s string) string { return sc.scope.Expand(s) }

// Logger returns the copy's logger.
func (sc *Context) Logger() *slog.Logger { return sc.logger }

// HasInputs reports whether any hop feeds this copy.
func (sc *Context) HasInputs() bool { return len(sc.inputs) > 0 }

// InputMeta returns the meta of the last row read, nil before the first row.
func (sc *Context) InputMeta() *row.Meta { return sc.inputMeta }

// OutputMeta returns the meta produced by BindSchema or set explicitly.
func (sc *Context) OutputMeta() *row.Meta { return sc.outputMeta }

// SetOutputMeta sets the meta PutRow uses when called with a nil meta.
func (sc *Context) SetOutputMeta(m *row.Meta) { sc.outputMeta = m }

// ErrorHandlingEnabled reports whether row errors can be routed.
func (sc *Context) ErrorHandlingEnabled() bool { return sc.errConf != nil }

// AddRowListener attaches l to this copy. Must be called before the copy starts.
func (sc *Context) AddRowListener(l RowListener) {
	sc.listeners = append(sc.listeners, l)
}

// GetRow returns the next row from any input, or nil once every input is
// exhausted. The error is non-nil only when the run is stopping.
func (sc *Context) GetRow(ctx context.Context) (row.Row, error) {
	return sc.getFrom(ctx, sc.inputs)
}

// GetRowFrom reads only from the hops whose producer is the named step.
func (sc *Context) GetRowFrom(ctx context.Context, stepName string) (row.Row, error) {
	var sets []*rowset.RowSet
	for _, rs := range sc.inputs {
		if rs.Producer().Step == stepName {
			sets = append(sets, rs)
		}
	}
	if len(sets) == 0 {
		return nil, Fatal(fmt.Errorf("step %q has no input from %q", sc.id.Step, stepName))
	}
	return sc.getFrom(ctx, sets)
}

func (sc *Context) getFrom(ctx context.Context, sets []*rowset.RowSet) (row.Row, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	var (
		r   row.Row
		src *rowset.RowSet
	)
	if len(sets) == 1 {
		src = sets[0]
		got, err := src.GetRow(ctx)
		if errors.Is(err, rowset.ErrNoMoreRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		r = got
	} else {
		var err error
		r, src, err = sc.poll(ctx, sets)
		if err != nil || r == nil {
			return nil, err
		}
	}

	meta := src.Meta()
	sc.inputMeta = meta
	sc.current, sc.currentMeta = r, meta
	sc.read.Add(1)
	for _, l := range sc.listeners {
		l.RowRead(meta, r)
	}
	if !sc.bound {
		if err := sc.bind(ctx, meta); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// poll takes the next row from several sets in rotation, waiting on the
// shared notify channel while all of them are empty.
func (sc *Context) poll(ctx context.Context, sets []*rowset.RowSet) (row.Row, *rowset.RowSet, error) {
	for {
		pending := 0
		for i := 0; i < len(sets); i++ {
			idx := (sc.nextInput + i) % len(sets)
			r, err := sets[idx].TryGetRow()
			switch {
			case err == nil:
				sc.nextInput = idx + 1
				return r, sets[idx], nil
			case errors.Is(err, rowset.ErrEmpty):
				pending++
			}
		}
		if pending == 0 {
			return nil, nil, nil
		}
		select {
		case <-sc.notify:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (sc *Context) bind(ctx context.Context, in *row.Meta) error {
	sc.bound = true
	if sc.binder == nil {
		if sc.outputMeta == nil {
			sc.outputMeta = in
		}
		return nil
	}
	out, err := sc.binder.BindSchema(ctx, sc, in)
	if err != nil {
		return Fatal(fmt.Errorf("step %q: bind schema: %w", sc.id.Step, err))
	}
	sc.outputMeta = out
	return nil
}

// PutRow writes r to every outgoing hop. A nil meta means OutputMeta.
func (sc *Context) PutRow(ctx context.Context, meta *row.Meta, r row.Row) error {
	if meta == nil {
		meta = sc.outputMeta
	}
	for _, l := range sc.listeners {
		l.RowWritten(meta, r)
	}
	if len(sc.outputs) == 0 {
		return nil
	}
	for i, out := range sc.outputs {
		values := r
		if i > 0 {
			values = r.Clone()
		}
		if err := sc.deliver(ctx, out, meta, values); err != nil {
			return err
		}
	}
	sc.written.Add(1)
	return nil
}

// PutRowTo writes r only to the hop leading to target.
func (sc *Context) PutRowTo(ctx context.Context, target string, meta *row.Meta, r row.Row) error {
	if meta == nil {
		meta = sc.outputMeta
	}
	for _, out := range sc.outputs {
		if out.Target == target {
			for _, l := range sc.listeners {
				l.RowWritten(meta, r)
			}
			if err := sc.deliver(ctx, out, meta, r); err != nil {
				return err
			}
			sc.written.Add(1)
			return nil
		}
	}
	return Fatal(fmt.Errorf("step %q has no hop to %q", sc.id.Step, target))
}

func (sc *Context) deliver(ctx context.Context, out *Output, meta *row.Meta, r row.Row) error {
	if out.Distribution == config.CopyToAll {
		for i, rs := range out.Sets {
			values := r
			if i > 0 {
				values = r.Clone()
			}
			if err := rs.PutRow(ctx, meta, values); err != nil && !errors.Is(err, rowset.ErrRejected) {
				return err
			}
		}
		return nil
	}
	for tries := 0; tries < len(out.Sets); tries++ {
		rs := out.Sets[out.next]
		out.next = (out.next + 1) % len(out.Sets)
		err := rs.PutRow(ctx, meta, r)
		if err == nil || !errors.Is(err, rowset.ErrRejected) {
			return err
		}
	}
	// every consumer copy is gone; the row is dropped.
	return nil
}

// PutError rejects r: the row, extended with the configured error fields,
// goes to the error hop when there is one. It fails once the rejection
// limits are exceeded.
func (sc *Context) PutError(ctx context.Context, meta *row.Meta, r row.Row, d ErrorDescriptor) error {
	if sc.errConf == nil {
		return ErrNoErrorHandling
	}
	sc.rejected.Add(1)
	if d.NrErrors == 0 {
		d.NrErrors = 1
	}
	if sc.errorMeta == nil || sc.errorBase != meta {
		sc.errorBase = meta
		sc.errorMeta = meta.Extend(errorFields(sc.errConf)...)
	}
	errRow := append(r.Resize(meta.Size()), errorValues(sc.errConf, d)...)
	for _, l := range sc.listeners {
		l.ErrorRowWritten(sc.errorMeta, errRow)
	}
	if sc.errOut != nil {
		if err := sc.deliver(ctx, sc.errOut, sc.errorMeta, errRow); err != nil {
			return err
		}
	}
	return sc.verifyRejectionRates()
}

// ErrorMeta returns the meta of error rows, nil before the first rejection.
func (sc *Context) ErrorMeta() *row.Meta { return sc.errorMeta }

func (sc *Context) verifyRejectionRates() error {
	eh := sc.errConf
	rejected := sc.rejected.Load()
	if eh.MaxErrors > 0 && rejected > eh.MaxErrors {
		return fmt.Errorf("%w: %d rejected, maximum is %d", ErrTooManyErrors, rejected, eh.MaxErrors)
	}
	if eh.MaxPercentErrors > 0 {
		read := sc.read.Load()
		if read > 0 && read >= eh.MinPercentRows && rejected*100 > int64(eh.MaxPercentErrors)*read {
			return fmt.Errorf("%w: %d of %d rows rejected, maximum is %d%%", ErrTooManyErrors, rejected, read, eh.MaxPercentErrors)
		}
	}
	return nil
}

// routeError sends the row behind err to the error sink.
func (sc *Context) routeError(ctx context.Context, err error) error {
	meta, r := sc.currentMeta, sc.current
	d := ErrorDescriptor{NrErrors: 1, Description: err.Error()}
	var re *RowError
	if errors.As(err, &re) {
		if re.Row != nil {
			r = re.Row
			if re.Meta != nil {
				meta = re.Meta
			}
		}
		d.Code, d.Fields = re.Code, re.Field
		if re.Err != nil {
			d.Description = re.Err.Error()
		}
	}
	if r == nil || meta == nil {
		return err
	}
	return sc.PutError(ctx, meta, r, d)
}

// IsStopped reports whether a stop was requested for this copy.
func (sc *Context) IsStopped() bool { return sc.stopped.Load() }

// StopAll requests a stop of the whole transformation.
func (sc *Context) StopAll() {
	sc.stopped.Store(true)
	if sc.host != nil {
		sc.host.StopAll()
	}
}

// RequestStop sets this copy's stop flag.
func (sc *Context) RequestStop() { sc.stopped.Store(true) }

// PreviousResult returns the result handed to the transformation by its
// caller, or an empty one.
func (sc *Context) PreviousResult() *result.Result {
	if sc.host == nil {
		return result.New()
	}
	if prev := sc.host.PreviousResult(); prev != nil {
		return prev
	}
	return result.New()
}

// AddResultRow hands a row back to the calling job.
func (sc *Context) AddResultRow(meta *row.Meta, r row.Row) {
	if sc.host != nil {
		sc.host.AddResultRow(meta, r)
	}
}

// AddResultFile records a file in the transformation result.
func (sc *Context) AddResultFile(f result.File) {
	if f.Origin == "" {
		f.Origin = sc.id.Step
	}
	if sc.host != nil {
		sc.host.AddResultFile(f)
	}
}

func (sc *Context) IncLinesInput()   { sc.input.Add(1) }
func (sc *Context) IncLinesOutput()  { sc.output.Add(1) }
func (sc *Context) IncLinesUpdated() { sc.updated.Add(1) }

// Counters returns a snapshot of the row counters.
func (sc *Context) Counters() Counters {
	return Counters{
		Read:     sc.read.Load(),
		Written:  sc.written.Load(),
		Input:    sc.input.Load(),
		Output:   sc.output.Load(),
		Updated:  sc.updated.Load(),
		Rejected: sc.rejected.Load(),
		Errors:   sc.errs.Load(),
	}
}

func (sc *Context) markOutputsDone() {
	for _, out := range sc.outputs {
		for _, rs := range out.Sets {
			rs.SetDone()
		}
	}
	if sc.errOut != nil {
		for _, rs := range sc.errOut.Sets {
			rs.SetDone()
		}
	}
}

func (sc *Context) closeInputs() {
	for _, rs := range sc.inputs {
		rs.Close()
	}
}
