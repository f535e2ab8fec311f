// Package testutil provides harnesses that run a single step or job entry
// through the real transformation and job engines.
package testutil

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
	"github.com/vk/hopgrid/internal/engine"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
	"github.com/vk/hopgrid/internal/trans"
	"github.com/vk/hopgrid/internal/variables"
)

const (
	feedStep    = "testutil_feed"
	collectStep = "testutil_collect"
	// UnderTest is the name of the step being exercised.
	UnderTest = "under_test"
	// Rejects is the name of the step collecting error rows.
	Rejects = "rejects"
	// Output is the name of the step collecting regular output rows.
	Output = "output"
)

// StepRun describes a single-step transformation.
type StepRun struct {
	// Type is the registered step type under test.
	Type    string
	Options config.Options
	Copies  int
	// ErrorHandling, when set, is wired to a collector named Rejects.
	ErrorHandling *config.ErrorHandling
	// InputMeta and Input feed the step; a nil InputMeta means no input hop.
	InputMeta *row.Meta
	Input     []row.Row
	// Targets adds extra collectors fed by the step, for steps that route
	// rows to named hops.
	Targets  []string
	Previous *result.Result
	Params   map[string]string
	// Process seeds the process-wide variable scope.
	Process map[string]string
	Modules []registry.Module
	Timeout time.Duration
}

// StepOutcome is what a StepRun produced.
type StepOutcome struct {
	Result *result.Result
	Trans  *trans.Trans
	// Rows holds the rows written to each collector, keyed by step name.
	Rows  map[string][]row.Row
	Metas map[string]*row.Meta
	Logs  string
	// Err is set when the transformation could not be prepared.
	Err error
}

// Out returns the rows that reached the Output collector.
func (o *StepOutcome) Out() []row.Row { return o.Rows[Output] }

// Rejected returns the error rows that reached the Rejects collector.
func (o *StepOutcome) Rejected() []row.Row { return o.Rows[Rejects] }

type sink struct {
	mu    sync.Mutex
	rows  map[string][]row.Row
	metas map[string]*row.Meta
}

func (s *sink) add(name string, meta *row.Meta, r row.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[name] = append(s.rows[name], r)
	s.metas[name] = meta
}

type feeder struct {
	meta *row.Meta
	rows []row.Row
	next int
}

func (f *feeder) Init(ctx context.Context, sc *step.Context) error { return nil }

func (f *feeder) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	return f.meta, nil
}

func (f *feeder) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	if f.next >= len(f.rows) {
		return false, nil
	}
	r := f.rows[f.next].Clone()
	f.next++
	return true, sc.PutRow(ctx, nil, r)
}

func (f *feeder) Dispose(ctx context.Context, sc *step.Context) error { return nil }

type collector struct{ s *sink }

func (c *collector) Init(ctx context.Context, sc *step.Context) error { return nil }

func (c *collector) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	c.s.add(sc.Name(), sc.InputMeta(), r)
	return true, nil
}

func (c *collector) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// LogBuffer is a bytes.Buffer safe for concurrent writers.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewLogger returns a debug logger writing into buf. Setting
// HOPGRID_TEST_LOGS=true also mirrors the logs to stderr.
func NewLogger(buf *LogBuffer) *slog.Logger {
	var w io.Writer = buf
	if os.Getenv("HOPGRID_TEST_LOGS") == "true" {
		w = io.MultiWriter(buf, os.Stderr)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// RunStep builds feed -> under_test -> output (plus rejects and extra
// targets), runs it to completion and returns everything it produced.
func RunStep(t *testing.T, run StepRun) *StepOutcome {
	t.Helper()

	s := &sink{rows: map[string][]row.Row{}, metas: map[string]*row.Meta{}}
	helpers := &SimpleModule{Steps: map[string]func() step.Step{
		feedStep:    func() step.Step { return &feeder{meta: run.InputMeta, rows: run.Input} },
		collectStep: func() step.Step { return &collector{s: s} },
	}}
	reg := registry.NewWith(append([]registry.Module{helpers}, run.Modules...)...)

	copies := run.Copies
	if copies == 0 {
		copies = 1
	}
	opts := run.Options
	if opts == nil {
		opts = config.Options{}
	}
	meta := &config.Transformation{Name: "test_" + run.Type}
	meta.Steps = append(meta.Steps,
		&config.Step{Name: UnderTest, Type: run.Type, Copies: copies, Options: opts, ErrorHandling: run.ErrorHandling},
		&config.Step{Name: Output, Type: collectStep, Copies: 1, Options: config.Options{}},
	)
	meta.Hops = append(meta.Hops, &config.Hop{From: UnderTest, To: Output})
	if run.InputMeta != nil {
		meta.Steps = append(meta.Steps, &config.Step{Name: "feed", Type: feedStep, Copies: 1, Options: config.Options{}})
		meta.Hops = append(meta.Hops, &config.Hop{From: "feed", To: UnderTest})
	}
	if run.ErrorHandling != nil {
		run.ErrorHandling.Target = Rejects
		meta.Steps = append(meta.Steps, &config.Step{Name: Rejects, Type: collectStep, Copies: 1, Options: config.Options{}})
		meta.Hops = append(meta.Hops, &config.Hop{From: UnderTest, To: Rejects, Error: true})
	}
	for _, target := range run.Targets {
		meta.Steps = append(meta.Steps, &config.Step{Name: target, Type: collectStep, Copies: 1, Options: config.Options{}})
		meta.Hops = append(meta.Hops, &config.Hop{From: UnderTest, To: target})
	}
	require.NoError(t, trans.Validate(meta, reg), "harness transformation must be valid")

	ec := engine.New(reg, variables.NewProcess(run.Process), nil)

	var logs LogBuffer
	timeout := run.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, NewLogger(&logs))

	tr := trans.New(ec, meta, trans.Options{Previous: run.Previous, Params: run.Params})
	res, err := tr.Execute(ctx)
	require.NotNil(t, res)

	s.mu.Lock()
	defer s.mu.Unlock()
	return &StepOutcome{Result: res, Trans: tr, Rows: s.rows, Metas: s.metas, Logs: logs.String(), Err: err}
}
