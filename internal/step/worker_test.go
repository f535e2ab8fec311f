package step

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/rowset"
)

var intMeta = row.NewMeta(row.ValueMeta{Name: "n", Type: row.TypeInteger})

type fakeHost struct {
	mu     sync.Mutex
	stops  atomic.Int32
	cancel context.CancelFunc
	res    *result.Result
}

func (h *fakeHost) StopAll() {
	h.stops.Add(1)
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *fakeHost) PreviousResult() *result.Result { return nil }

func (h *fakeHost) AddResultRow(meta *row.Meta, r row.Row) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.res == nil {
		h.res = result.New()
	}
	h.res.AddRow(meta, r)
}

func (h *fakeHost) AddResultFile(f result.File) {}

type funcStep struct {
	initErr  error
	process  func(ctx context.Context, sc *Context) (bool, error)
	bind     func(in *row.Meta) (*row.Meta, error)
	disposed atomic.Int32
}

func (s *funcStep) Init(ctx context.Context, sc *Context) error { return s.initErr }

func (s *funcStep) ProcessRow(ctx context.Context, sc *Context) (bool, error) {
	return s.process(ctx, sc)
}

func (s *funcStep) Dispose(ctx context.Context, sc *Context) error {
	s.disposed.Add(1)
	return nil
}

type bindingStep struct {
	funcStep
	binds atomic.Int32
}

func (s *bindingStep) BindSchema(ctx context.Context, sc *Context, in *row.Meta) (*row.Meta, error) {
	s.binds.Add(1)
	return s.bind(in)
}

func passThrough(ctx context.Context, sc *Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	return true, sc.PutRow(ctx, sc.InputMeta(), r)
}

func filledInput(t *testing.T, n int) *rowset.RowSet {
	t.Helper()
	rs := rowset.New(rowset.CopyID{Step: "src"}, rowset.CopyID{Step: "s"}, n+1)
	for i := 1; i <= n; i++ {
		require.NoError(t, rs.PutRow(context.Background(), intMeta, row.Row{int64(i)}))
	}
	rs.SetDone()
	return rs
}

func drain(t *testing.T, rs *rowset.RowSet) []row.Row {
	t.Helper()
	var rows []row.Row
	for {
		r, err := rs.TryGetRow()
		if errors.Is(err, rowset.ErrNoMoreRows) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, r)
	}
}

func newOutput(target string, d config.Distribution, copies, capacity int) *Output {
	out := &Output{Target: target, Distribution: d}
	for i := 0; i < copies; i++ {
		out.Sets = append(out.Sets, rowset.New(rowset.CopyID{Step: "s"}, rowset.CopyID{Step: target, Copy: i}, capacity))
	}
	return out
}

func runWorker(t *testing.T, w *Worker, ctx context.Context) {
	t.Helper()
	require.NoError(t, w.Init(ctx))
	go w.Run(ctx)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate")
	}
}

func TestWorker_PassThroughFinishes(t *testing.T) {
	in := filledInput(t, 5)
	out := newOutput("next", config.RoundRobin, 1, 10)
	s := &funcStep{process: passThrough}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Inputs: []*rowset.RowSet{in}, Outputs: []*Output{out}})
	w := NewWorker(s, sc)

	runWorker(t, w, context.Background())

	assert.Equal(t, StateFinished, w.Outcome())
	assert.Equal(t, StateDisposed, w.State())
	assert.Equal(t, int32(1), s.disposed.Load())
	assert.True(t, out.Sets[0].IsDone())
	assert.Len(t, drain(t, out.Sets[0]), 5)
	c := sc.Counters()
	assert.Equal(t, int64(5), c.Read)
	assert.Equal(t, int64(5), c.Written)
	assert.Zero(t, c.Errors)
}

func TestWorker_InitFailureDisposesOnce(t *testing.T) {
	out := newOutput("next", config.RoundRobin, 1, 10)
	s := &funcStep{initErr: errors.New("no connection"), process: passThrough}
	w := NewWorker(s, NewContext(Config{ID: rowset.CopyID{Step: "s"}, Outputs: []*Output{out}}))

	err := w.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connection")
	assert.Equal(t, StateFailed, w.Outcome())
	assert.Equal(t, StateDisposed, w.State())

	w.Dispose(context.Background())
	assert.Equal(t, int32(1), s.disposed.Load())
	<-w.Done()
}

func TestWorker_FatalErrorStopsTransformation(t *testing.T) {
	in := filledInput(t, 5)
	out := newOutput("next", config.RoundRobin, 1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host := &fakeHost{cancel: cancel}

	s := &funcStep{process: func(ctx context.Context, sc *Context) (bool, error) {
		r, err := sc.GetRow(ctx)
		if err != nil || r == nil {
			return false, err
		}
		if r[0] == int64(3) {
			return false, errors.New("boom")
		}
		return true, sc.PutRow(ctx, sc.InputMeta(), r)
	}}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Host: host, Inputs: []*rowset.RowSet{in}, Outputs: []*Output{out}})
	w := NewWorker(s, sc)

	runWorker(t, w, ctx)

	assert.Equal(t, StateFailed, w.Outcome())
	require.Error(t, w.Err())
	assert.Contains(t, w.Err().Error(), "boom")
	assert.Equal(t, int64(1), sc.Counters().Errors)
	assert.Equal(t, int32(1), host.stops.Load())
	assert.True(t, out.Sets[0].IsDone())
	assert.Len(t, drain(t, out.Sets[0]), 2)
}

func TestWorker_RowErrorRoutedToErrorHop(t *testing.T) {
	in := filledInput(t, 6)
	out := newOutput("next", config.RoundRobin, 1, 10)
	errOut := newOutput("errors", config.RoundRobin, 1, 10)
	stepConf := &config.Step{Name: "s", ErrorHandling: &config.ErrorHandling{
		Target:            "errors",
		NrErrorsField:     "nr_errors",
		DescriptionsField: "error_desc",
		FieldsField:       "error_fields",
		CodesField:        "error_code",
	}}

	s := &funcStep{process: func(ctx context.Context, sc *Context) (bool, error) {
		r, err := sc.GetRow(ctx)
		if err != nil || r == nil {
			return false, err
		}
		if r[0].(int64)%2 == 0 {
			return true, NewRowError("EVEN001", "n", errors.New("even value"))
		}
		return true, sc.PutRow(ctx, sc.InputMeta(), r)
	}}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Step: stepConf, Inputs: []*rowset.RowSet{in}, Outputs: []*Output{out}, ErrorOutput: errOut})
	w := NewWorker(s, sc)

	runWorker(t, w, context.Background())

	assert.Equal(t, StateFinished, w.Outcome())
	assert.Len(t, drain(t, out.Sets[0]), 3)

	errRows := drain(t, errOut.Sets[0])
	require.Len(t, errRows, 3)
	assert.Equal(t, row.Row{int64(2), int64(1), "even value", "n", "EVEN001"}, errRows[0])
	assert.Equal(t, []string{"n", "nr_errors", "error_desc", "error_fields", "error_code"}, errOut.Sets[0].Meta().Names())
	assert.Equal(t, int64(3), sc.Counters().Rejected)
	assert.Zero(t, sc.Counters().Errors)
}

func TestWorker_ErrorRowOmitsUnboundFields(t *testing.T) {
	in := filledInput(t, 1)
	errOut := newOutput("errors", config.RoundRobin, 1, 10)
	stepConf := &config.Step{Name: "s", ErrorHandling: &config.ErrorHandling{Target: "errors", CodesField: "code"}}

	s := &funcStep{process: func(ctx context.Context, sc *Context) (bool, error) {
		r, err := sc.GetRow(ctx)
		if err != nil || r == nil {
			return false, err
		}
		return true, errors.New("plain failure")
	}}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Step: stepConf, Inputs: []*rowset.RowSet{in}, ErrorOutput: errOut})
	runWorker(t, NewWorker(s, sc), context.Background())

	errRows := drain(t, errOut.Sets[0])
	require.Len(t, errRows, 1)
	assert.Equal(t, row.Row{int64(1), ""}, errRows[0])
}

func TestWorker_MaxErrorsFailsStep(t *testing.T) {
	in := filledInput(t, 10)
	stepConf := &config.Step{Name: "s", ErrorHandling: &config.ErrorHandling{MaxErrors: 2}}
	s := &funcStep{process: func(ctx context.Context, sc *Context) (bool, error) {
		r, err := sc.GetRow(ctx)
		if err != nil || r == nil {
			return false, err
		}
		return true, errors.New("always wrong")
	}}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Step: stepConf, Inputs: []*rowset.RowSet{in}})
	w := NewWorker(s, sc)

	runWorker(t, w, context.Background())

	assert.Equal(t, StateFailed, w.Outcome())
	assert.ErrorIs(t, w.Err(), ErrTooManyErrors)
	assert.Equal(t, int64(3), sc.Counters().Rejected)
}

func TestWorker_MaxPercentErrors(t *testing.T) {
	in := filledInput(t, 10)
	stepConf := &config.Step{Name: "s", ErrorHandling: &config.ErrorHandling{MaxPercentErrors: 20, MinPercentRows: 5}}
	s := &funcStep{process: func(ctx context.Context, sc *Context) (bool, error) {
		r, err := sc.GetRow(ctx)
		if err != nil || r == nil {
			return false, err
		}
		if n := r[0].(int64); n <= 3 || n == 6 {
			return true, errors.New("bad row")
		}
		return true, nil
	}}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Step: stepConf, Inputs: []*rowset.RowSet{in}})
	w := NewWorker(s, sc)

	runWorker(t, w, context.Background())

	// Below MinPercentRows the early rejections are tolerated; the fourth
	// rejection at row 6 is checked against 4/6, above 20%.
	assert.Equal(t, StateFailed, w.Outcome())
	assert.ErrorIs(t, w.Err(), ErrTooManyErrors)
}

func TestWorker_StopUnblocksGetRow(t *testing.T) {
	in := rowset.New(rowset.CopyID{Step: "src"}, rowset.CopyID{Step: "s"}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	s := &funcStep{process: passThrough}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Inputs: []*rowset.RowSet{in}})
	w := NewWorker(s, sc)

	require.NoError(t, w.Init(ctx))
	go w.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateRunning, w.State())

	w.Stop()
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker stayed blocked after stop")
	}
	assert.Equal(t, StateStopped, w.Outcome())
	assert.Zero(t, sc.Counters().Errors)
	assert.Equal(t, int32(1), s.disposed.Load())
}

func TestWorker_BindSchemaOnce(t *testing.T) {
	in := filledInput(t, 4)
	out := newOutput("next", config.RoundRobin, 1, 10)
	s := &bindingStep{}
	s.bind = func(in *row.Meta) (*row.Meta, error) {
		return in.Extend(row.ValueMeta{Name: "tag", Type: row.TypeString}), nil
	}
	s.process = func(ctx context.Context, sc *Context) (bool, error) {
		r, err := sc.GetRow(ctx)
		if err != nil || r == nil {
			return false, err
		}
		outRow := append(r.Resize(sc.InputMeta().Size()), "x")
		return true, sc.PutRow(ctx, nil, outRow)
	}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Inputs: []*rowset.RowSet{in}, Outputs: []*Output{out}})

	runWorker(t, NewWorker(s, sc), context.Background())

	assert.Equal(t, int32(1), s.binds.Load())
	assert.Equal(t, []string{"n", "tag"}, out.Sets[0].Meta().Names())
	assert.Equal(t, []string{"n"}, intMeta.Names(), "input meta must not be mutated")
}

func TestWorker_BindSchemaWithoutInputs(t *testing.T) {
	s := &bindingStep{}
	s.bind = func(in *row.Meta) (*row.Meta, error) {
		assert.Nil(t, in)
		return intMeta, nil
	}
	s.process = func(ctx context.Context, sc *Context) (bool, error) { return false, nil }
	sc := NewContext(Config{ID: rowset.CopyID{Step: "gen"}})

	runWorker(t, NewWorker(s, sc), context.Background())

	assert.Equal(t, int32(1), s.binds.Load())
	assert.Same(t, intMeta, sc.OutputMeta())
}

func TestContext_Distribution(t *testing.T) {
	ctx := context.Background()
	rr := newOutput("rr", config.RoundRobin, 3, 10)
	all := newOutput("all", config.CopyToAll, 2, 10)
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Outputs: []*Output{rr, all}})

	for i := int64(0); i < 6; i++ {
		require.NoError(t, sc.PutRow(ctx, intMeta, row.Row{i}))
	}
	for _, rs := range rr.Sets {
		rs.SetDone()
	}
	for _, rs := range all.Sets {
		rs.SetDone()
	}

	assert.Equal(t, []row.Row{{int64(0)}, {int64(3)}}, drain(t, rr.Sets[0]))
	assert.Equal(t, []row.Row{{int64(1)}, {int64(4)}}, drain(t, rr.Sets[1]))
	assert.Equal(t, []row.Row{{int64(2)}, {int64(5)}}, drain(t, rr.Sets[2]))
	assert.Len(t, drain(t, all.Sets[0]), 6)
	assert.Len(t, drain(t, all.Sets[1]), 6)
	assert.Equal(t, int64(6), sc.Counters().Written)
}

func TestContext_RoundRobinSkipsClosedConsumer(t *testing.T) {
	ctx := context.Background()
	out := newOutput("next", config.RoundRobin, 2, 10)
	out.Sets[0].Close()
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Outputs: []*Output{out}})

	for i := int64(0); i < 4; i++ {
		require.NoError(t, sc.PutRow(ctx, intMeta, row.Row{i}))
	}
	out.Sets[1].SetDone()
	assert.Len(t, drain(t, out.Sets[1]), 4)
}

func TestContext_PutRowTo(t *testing.T) {
	ctx := context.Background()
	yes := newOutput("yes", config.RoundRobin, 1, 10)
	no := newOutput("no", config.RoundRobin, 1, 10)
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Outputs: []*Output{yes, no}})

	require.NoError(t, sc.PutRowTo(ctx, "no", intMeta, row.Row{int64(1)}))
	assert.Equal(t, 0, yes.Sets[0].Size())
	assert.Equal(t, 1, no.Sets[0].Size())
	assert.Error(t, sc.PutRowTo(ctx, "maybe", intMeta, row.Row{int64(1)}))
}

func TestContext_MultipleInputs(t *testing.T) {
	ctx := context.Background()
	a := rowset.New(rowset.CopyID{Step: "a"}, rowset.CopyID{Step: "s"}, 10)
	b := rowset.New(rowset.CopyID{Step: "b"}, rowset.CopyID{Step: "s"}, 10)
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Inputs: []*rowset.RowSet{a, b}})

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.PutRow(ctx, intMeta, row.Row{int64(2)})
		b.SetDone()
		time.Sleep(10 * time.Millisecond)
		_ = a.PutRow(ctx, intMeta, row.Row{int64(1)})
		a.SetDone()
	}()

	var got []int64
	for {
		r, err := sc.GetRow(ctx)
		require.NoError(t, err)
		if r == nil {
			break
		}
		got = append(got, r[0].(int64))
	}
	assert.ElementsMatch(t, []int64{1, 2}, got)

	r, err := sc.GetRowFrom(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, r)
	_, err = sc.GetRowFrom(ctx, "zzz")
	assert.Error(t, err)
}

func TestContext_ListenersAndResult(t *testing.T) {
	ctx := context.Background()
	host := &fakeHost{}
	sc := NewContext(Config{ID: rowset.CopyID{Step: "s"}, Host: host})
	var written atomic.Int32
	sc.AddRowListener(ListenerFuncs{OnWrite: func(*row.Meta, row.Row) { written.Add(1) }})

	require.NoError(t, sc.PutRow(ctx, intMeta, row.Row{int64(1)}))
	sc.AddResultRow(intMeta, row.Row{int64(1)})

	assert.Equal(t, int32(1), written.Load())
	require.NotNil(t, host.res)
	assert.Len(t, host.res.Rows, 1)
	assert.True(t, sc.PreviousResult().Success)
}
