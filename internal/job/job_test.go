package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/engine"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
	"github.com/vk/hopgrid/internal/variables"
)

// recorder collects what the test entries observe.
type recorder struct {
	mu       sync.Mutex
	order    []string
	seen     map[string]string
	inErrors map[string]int64
	running  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: map[string]string{}, inErrors: map[string]int64{}, running: make(chan struct{}, 1)}
}

func (r *recorder) visit(name string, in *result.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
	r.inErrors[name] = in.NrErrors
}

func (r *recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) Seen(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[key]
}

// Register implements registry.Module with the test entries.
func (r *recorder) Register(reg *registry.Registry) {
	entry := func(run func(env jobentry.Env, opts config.Options, ctx context.Context, in *result.Result) (*result.Result, error)) *registry.EntryPlugin {
		return &registry.EntryPlugin{New: func(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
			return jobentry.Func(func(ctx context.Context, in *result.Result, nr int) (*result.Result, error) {
				r.visit(opts.String("name", ""), in)
				return run(env, opts, ctx, in)
			}), nil
		}}
	}

	reg.RegisterEntry(StartType, entry(func(_ jobentry.Env, _ config.Options, _ context.Context, in *result.Result) (*result.Result, error) {
		in.Success = true
		return in, nil
	}))
	reg.RegisterEntry("succeed", entry(func(_ jobentry.Env, opts config.Options, _ context.Context, in *result.Result) (*result.Result, error) {
		in.Success = in.NrErrors == 0
		if opts.Bool("add_row", false) {
			in.AddRow(row.NewMeta(row.ValueMeta{Name: "entry", Type: row.TypeString}), row.Row{opts.String("name", "")})
		}
		return in, nil
	}))
	reg.RegisterEntry("fail", entry(func(_ jobentry.Env, _ config.Options, _ context.Context, in *result.Result) (*result.Result, error) {
		in.Fail(1)
		return in, nil
	}))
	reg.RegisterEntry("boom", entry(func(_ jobentry.Env, _ config.Options, _ context.Context, in *result.Result) (*result.Result, error) {
		return nil, errors.New("entry exploded")
	}))
	reg.RegisterEntry("set", entry(func(env jobentry.Env, opts config.Options, _ context.Context, in *result.Result) (*result.Result, error) {
		level, err := variables.ParseLevel(opts.String("level", ""))
		if err != nil {
			return nil, err
		}
		return in, env.SetVariable(level, opts.String("var", ""), opts.String("value", ""))
	}))
	reg.RegisterEntry("get", entry(func(env jobentry.Env, opts config.Options, _ context.Context, in *result.Result) (*result.Result, error) {
		v := opts.String("var", "")
		r.mu.Lock()
		r.seen[opts.String("key", v)] = env.Scope().GetOr(v, "<unset>")
		r.mu.Unlock()
		return in, nil
	}))
	reg.RegisterEntry("job", entry(func(env jobentry.Env, opts config.Options, ctx context.Context, in *result.Result) (*result.Result, error) {
		return env.RunJob(ctx, opts.String("job", ""), in, nil)
	}))
	reg.RegisterEntry("trans", entry(func(env jobentry.Env, opts config.Options, ctx context.Context, in *result.Result) (*result.Result, error) {
		return env.RunTransformation(ctx, opts.String("trans", ""), in, nil)
	}))
	reg.RegisterEntry("block", entry(func(_ jobentry.Env, _ config.Options, ctx context.Context, in *result.Result) (*result.Result, error) {
		r.running <- struct{}{}
		<-ctx.Done()
		return in, nil
	}))
	reg.RegisterStep("scope_to_result", &registry.StepPlugin{New: func() step.Step { return &scopeToResult{} }})
}

// scopeToResult hands the value of variable X back as a result row.
type scopeToResult struct{}

func (scopeToResult) Init(context.Context, *step.Context) error { return nil }
func (scopeToResult) ProcessRow(_ context.Context, sc *step.Context) (bool, error) {
	meta := row.NewMeta(row.ValueMeta{Name: "x", Type: row.TypeString})
	sc.AddResultRow(meta, row.Row{sc.Scope().GetOr("X", "")})
	return false, nil
}
func (scopeToResult) Dispose(context.Context, *step.Context) error { return nil }

func entries(names ...string) []*config.Entry {
	out := make([]*config.Entry, 0, len(names))
	for _, n := range names {
		typ := n
		if n == "start" {
			typ = StartType
		}
		out = append(out, &config.Entry{Name: n, Type: typ, Options: config.Options{"name": n}})
	}
	return out
}

func entry(name, typ string, opts config.Options) *config.Entry {
	if opts == nil {
		opts = config.Options{}
	}
	opts["name"] = name
	return &config.Entry{Name: name, Type: typ, Options: opts}
}

func hop(from, to string, cond config.Condition) *config.JobHop {
	return &config.JobHop{From: from, To: to, Condition: cond}
}

func setup(t *testing.T, jobs ...*config.Job) (*engine.Context, *recorder) {
	t.Helper()
	rec := newRecorder()
	model := config.NewModel()
	for _, j := range jobs {
		require.NoError(t, model.AddJob(j))
	}
	return engine.New(registry.NewWith(rec), nil, model), rec
}

func run(t *testing.T, ec *engine.Context, name string) (*Job, *result.Result, error) {
	t.Helper()
	meta, err := ec.Catalog.Job(name)
	require.NoError(t, err)
	j := New(ec, meta, Options{})
	res, err := j.Execute(context.Background())
	require.NotNil(t, res)
	return j, res, err
}

func TestJob_ConditionalBranching(t *testing.T) {
	meta := &config.Job{
		Name: "branch",
		Entries: []*config.Entry{
			entry("start", StartType, nil),
			entry("check", "fail", nil),
			entry("on_ok", "succeed", nil),
			entry("on_error", "succeed", nil),
		},
		Hops: []*config.JobHop{
			hop("start", "check", config.Unconditional),
			hop("check", "on_ok", config.OnSuccess),
			hop("check", "on_error", config.OnFailure),
		},
	}
	ec, rec := setup(t, meta)

	j, res, err := run(t, ec, "branch")

	require.NoError(t, err)
	assert.Equal(t, []string{"start", "check", "on_error"}, rec.Order())
	assert.Zero(t, rec.inErrors["on_error"], "errors are reset before the next entry")
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Nr)
	assert.Equal(t, j.ID(), res.LogChannelID)

	history := j.Results()
	require.Len(t, history, 3)
	assert.Equal(t, "check", history[1].Entry)
	assert.False(t, history[1].Result.Success)
	assert.Contains(t, history[2].Reason, "failure hop from 'check'")
}

func TestJob_FollowsFirstSatisfiedHopOnly(t *testing.T) {
	meta := &config.Job{
		Name:    "first",
		Entries: []*config.Entry{entry("start", StartType, nil), entry("a", "succeed", nil), entry("b", "succeed", nil)},
		Hops:    []*config.JobHop{hop("start", "a", ""), hop("start", "b", "")},
	}
	ec, rec := setup(t, meta)

	_, res, err := run(t, ec, "first")

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"start", "a"}, rec.Order())
}

func TestJob_KeepErrors(t *testing.T) {
	keeper := entry("keeper", "succeed", nil)
	keeper.KeepErrors = true
	meta := &config.Job{
		Name:    "keep",
		Entries: []*config.Entry{entry("start", StartType, nil), entry("check", "fail", nil), keeper},
		Hops:    []*config.JobHop{hop("start", "check", ""), hop("check", "keeper", "")},
	}
	ec, rec := setup(t, meta)

	_, res, err := run(t, ec, "keep")

	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.inErrors["keeper"])
	assert.False(t, res.Success)
	assert.Equal(t, int64(1), res.NrErrors)
}

func TestJob_ParallelFanOut(t *testing.T) {
	start := entry("start", StartType, nil)
	start.Parallel = true
	meta := &config.Job{
		Name: "fan",
		Entries: []*config.Entry{
			start,
			entry("a", "succeed", config.Options{"add_row": true}),
			entry("b", "succeed", config.Options{"add_row": true}),
			entry("c", "fail", nil),
		},
		Hops: []*config.JobHop{hop("start", "a", ""), hop("start", "b", ""), hop("start", "c", "")},
	}
	ec, rec := setup(t, meta)

	j, res, err := run(t, ec, "fan")

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"start", "a", "b", "c"}, rec.Order())
	assert.Len(t, res.Rows, 2)
	assert.False(t, res.Success)
	assert.Equal(t, int64(1), res.NrErrors)
	assert.Len(t, j.Results(), 4)
}

func TestJob_EntryErrorFailsResult(t *testing.T) {
	meta := &config.Job{
		Name:    "boom",
		Entries: []*config.Entry{entry("start", StartType, nil), entry("explode", "boom", nil), entry("cleanup", "succeed", nil)},
		Hops:    []*config.JobHop{hop("start", "explode", ""), hop("explode", "cleanup", config.OnFailure)},
	}
	ec, rec := setup(t, meta)

	_, res, err := run(t, ec, "boom")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 'explode': entry exploded")
	assert.Equal(t, []string{"start", "explode", "cleanup"}, rec.Order())
	assert.True(t, res.Success, "the cleanup entry decides the final outcome")
}

func TestJob_VariableScoping(t *testing.T) {
	inner := &config.Job{
		Name: "inner",
		Entries: []*config.Entry{
			entry("start", StartType, nil),
			entry("set_current", "set", config.Options{"level": "current_job", "var": "X", "value": "inner"}),
			entry("set_root", "set", config.Options{"level": "root_job", "var": "Y", "value": "root"}),
			entry("read_inner", "get", config.Options{"var": "X", "key": "inner.X"}),
		},
		Hops: []*config.JobHop{
			hop("start", "set_current", ""),
			hop("set_current", "set_root", config.OnSuccess),
			hop("set_root", "read_inner", config.OnSuccess),
		},
	}
	outer := &config.Job{
		Name: "outer",
		Entries: []*config.Entry{
			entry("start", StartType, nil),
			entry("child", "job", config.Options{"job": "inner"}),
			entry("read_x", "get", config.Options{"var": "X", "key": "outer.X"}),
			entry("read_y", "get", config.Options{"var": "Y", "key": "outer.Y"}),
		},
		Hops: []*config.JobHop{
			hop("start", "child", ""),
			hop("child", "read_x", config.OnSuccess),
			hop("read_x", "read_y", ""),
		},
	}
	ec, rec := setup(t, inner, outer)

	_, res, err := run(t, ec, "outer")

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "inner", rec.Seen("inner.X"))
	assert.Equal(t, "<unset>", rec.Seen("outer.X"), "current-job values stay in the child")
	assert.Equal(t, "root", rec.Seen("outer.Y"), "root-job values reach the parent")
	_, ok := ec.Process.Get("Y")
	assert.False(t, ok)
}

func TestJob_SetVariableLevels(t *testing.T) {
	ec, _ := setup(t)
	meta := &config.Job{Name: "j"}
	top := New(ec, meta, Options{})
	mid := New(ec, meta, Options{Parent: top})
	leaf := New(ec, meta, Options{Parent: mid})

	t.Run("no job", func(t *testing.T) {
		var none *Job
		assert.ErrorIs(t, none.SetVariable(variables.LevelCurrentJob, "A", "1"), variables.ErrNoJob)
	})

	t.Run("parent without parent", func(t *testing.T) {
		assert.ErrorIs(t, top.SetVariable(variables.LevelParentJob, "A", "1"), variables.ErrNoParentJob)
		_, ok := top.Scope().Local("A")
		assert.False(t, ok, "a failed write changes nothing")
	})

	t.Run("grand-parent without grand-parent", func(t *testing.T) {
		assert.ErrorIs(t, mid.SetVariable(variables.LevelGrandParentJob, "A", "1"), variables.ErrNoGrandParentJob)
	})

	t.Run("parent", func(t *testing.T) {
		require.NoError(t, leaf.SetVariable(variables.LevelParentJob, "P", "1"))
		assertLocal(t, leaf, "P", true)
		assertLocal(t, mid, "P", true)
		assertLocal(t, top, "P", false)
	})

	t.Run("grand-parent", func(t *testing.T) {
		require.NoError(t, leaf.SetVariable(variables.LevelGrandParentJob, "G", "1"))
		assertLocal(t, leaf, "G", true)
		assertLocal(t, mid, "G", true)
		assertLocal(t, top, "G", true)
	})

	t.Run("root", func(t *testing.T) {
		require.NoError(t, leaf.SetVariable(variables.LevelRootJob, "R", "1"))
		assertLocal(t, leaf, "R", true)
		assertLocal(t, mid, "R", true)
		assertLocal(t, top, "R", true)
		_, ok := ec.Process.Get("R")
		assert.False(t, ok)
	})

	t.Run("process", func(t *testing.T) {
		require.NoError(t, leaf.SetVariable(variables.LevelProcess, "S", "1"))
		assert.Equal(t, "1", ec.Process.GetOr("S", ""))
		assert.Equal(t, "1", New(ec, meta, Options{}).Scope().GetOr("S", ""), "visible to jobs not yet started")
		assertLocal(t, leaf, "S", false)
	})
}

func assertLocal(t *testing.T, j *Job, name string, want bool) {
	t.Helper()
	_, ok := j.Scope().Local(name)
	assert.Equal(t, want, ok, "%s set locally", name)
}

func TestJob_RunTransformation(t *testing.T) {
	meta := &config.Job{
		Name:       "etl",
		Parameters: map[string]string{"X": "from-job"},
		Entries:    []*config.Entry{entry("start", StartType, nil), entry("load", "trans", config.Options{"trans": "t"})},
		Hops:       []*config.JobHop{hop("start", "load", "")},
	}
	ec, _ := setup(t, meta)
	require.NoError(t, ec.Catalog.(*config.Model).AddTransformation(&config.Transformation{
		Name:  "t",
		Steps: []*config.Step{{Name: "emit", Type: "scope_to_result"}},
	}))

	_, res, err := run(t, ec, "etl")

	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "from-job", res.Rows[0].Row[0], "transformations see the job's variables")
}

func TestJob_UnknownTransformation(t *testing.T) {
	meta := &config.Job{
		Name:    "etl",
		Entries: []*config.Entry{entry("start", StartType, nil), entry("load", "trans", config.Options{"trans": "missing"})},
		Hops:    []*config.JobHop{hop("start", "load", "")},
	}
	ec, _ := setup(t, meta)

	_, res, err := run(t, ec, "etl")

	assert.ErrorIs(t, err, config.ErrNotFound)
	assert.False(t, res.Success)
}

func TestJob_Stop(t *testing.T) {
	meta := &config.Job{
		Name:    "blocking",
		Entries: []*config.Entry{entry("start", StartType, nil), entry("wait", "block", nil), entry("after", "succeed", nil)},
		Hops:    []*config.JobHop{hop("start", "wait", ""), hop("wait", "after", "")},
	}
	ec, rec := setup(t, meta)
	j := New(ec, meta, Options{})

	done := make(chan *result.Result)
	go func() {
		res, _ := j.Execute(context.Background())
		done <- res
	}()

	select {
	case <-rec.running:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking entry never started")
	}
	j.Stop()

	select {
	case res := <-done:
		assert.True(t, res.Stopped)
		assert.NotContains(t, rec.Order(), "after")
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not end the job")
	}
}

func TestJob_RepeatingStart(t *testing.T) {
	start := entry("start", StartType, config.Options{"repeat": true, "interval": 1, "max_iterations": 3})
	meta := &config.Job{
		Name:    "loop",
		Entries: []*config.Entry{start, entry("tick", "succeed", nil)},
		Hops:    []*config.JobHop{hop("start", "tick", "")},
	}
	ec, rec := setup(t, meta)

	j, res, err := run(t, ec, "loop")

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"start", "tick", "start", "tick", "start", "tick"}, rec.Order())
	assert.Len(t, j.Results(), 6)
}

func TestJob_RecursionIsRejected(t *testing.T) {
	meta := &config.Job{
		Name:    "self",
		Entries: []*config.Entry{entry("start", StartType, nil), entry("again", "job", config.Options{"job": "self"})},
		Hops:    []*config.JobHop{hop("start", "again", "")},
	}
	ec, _ := setup(t, meta)

	_, res, err := run(t, ec, "self")

	assert.ErrorIs(t, err, ErrRecursiveJob)
	assert.False(t, res.Success)
}

func TestJob_BoardTracksRun(t *testing.T) {
	meta := &config.Job{
		Name:    "tracked",
		Entries: []*config.Entry{entry("start", StartType, nil), entry("a", "succeed", nil)},
		Hops:    []*config.JobHop{hop("start", "a", "")},
	}
	ec, _ := setup(t, meta)

	j, _, err := run(t, ec, "tracked")
	require.NoError(t, err)

	active, finished := ec.Board.Snapshot()
	assert.Empty(t, active)
	require.Len(t, finished, 1)
	assert.Equal(t, j.ID(), finished[0].ID)
	assert.Equal(t, "job", finished[0].Kind)
	assert.Equal(t, "finished", finished[0].State)
	assert.Len(t, finished[0].Steps, 2)
}

func TestValidate(t *testing.T) {
	ec, _ := setup(t)
	testCases := []struct {
		name    string
		job     *config.Job
		wantErr string
	}{
		{
			name:    "no start",
			job:     &config.Job{Name: "j", Entries: entries("succeed")},
			wantErr: "exactly one 'start' entry, found 0",
		},
		{
			name:    "two starts",
			job:     &config.Job{Name: "j", Entries: []*config.Entry{entry("s1", StartType, nil), entry("s2", StartType, nil)}},
			wantErr: "found 2",
		},
		{
			name:    "unknown type",
			job:     &config.Job{Name: "j", Entries: []*config.Entry{entry("start", StartType, nil), entry("x", "teleport", nil)}},
			wantErr: "unknown job entry type 'teleport'",
		},
		{
			name: "unknown hop target",
			job: &config.Job{Name: "j", Entries: entries("start"),
				Hops: []*config.JobHop{hop("start", "nowhere", "")}},
			wantErr: "unknown target entry 'nowhere'",
		},
		{
			name: "bad condition",
			job: &config.Job{Name: "j", Entries: entries("start", "succeed"),
				Hops: []*config.JobHop{hop("start", "succeed", "sometimes")}},
			wantErr: "unknown condition 'sometimes'",
		},
		{
			name: "start as target",
			job: &config.Job{Name: "j", Entries: entries("start", "succeed"),
				Hops: []*config.JobHop{hop("succeed", "start", "")}},
			wantErr: "start entry cannot be a hop target",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.job, ec.Registry)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	loop := &config.Job{Name: "j", Entries: entries("start", "succeed", "fail"),
		Hops: []*config.JobHop{hop("start", "succeed", ""), hop("succeed", "fail", ""), hop("fail", "succeed", config.OnFailure)}}
	assert.NoError(t, Validate(loop, ec.Registry), "loops between entries are allowed")
}

func TestParseRepeat(t *testing.T) {
	r, err := parseRepeat(config.Options{"schedule": "*/5 * * * *", "max_iterations": 2})
	require.NoError(t, err)
	assert.True(t, r.enabled)
	assert.True(t, r.again(1))
	assert.False(t, r.again(2))
	next := r.next(time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), next)

	_, err = parseRepeat(config.Options{"schedule": "every tuesday"})
	assert.ErrorContains(t, err, "invalid schedule")

	r, err = parseRepeat(config.Options{})
	require.NoError(t, err)
	assert.False(t, r.again(1))
}
