package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
	"github.com/vk/hopgrid/internal/engine"
	"github.com/vk/hopgrid/internal/job"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/variables"
)

// EntryRun describes a job made of a start entry followed by one entry.
type EntryRun struct {
	Type    string
	Options config.Options
	// Previous is handed to the start entry and flows on to the entry.
	Previous *result.Result
	Params   map[string]string
	Process  map[string]string
	// Catalog holds definitions for entries that run nested work.
	Catalog *config.Model
	Modules []registry.Module
	Timeout time.Duration
}

// EntryOutcome is what an EntryRun produced.
type EntryOutcome struct {
	Result  *result.Result
	Err     error
	Job     *job.Job
	Process *variables.Scope
	Logs    string
}

// Entry returns the recorded result of the entry under test.
func (o *EntryOutcome) Entry() *job.EntryResult {
	for _, er := range o.Job.Results() {
		if er.Entry == UnderTest {
			return &er
		}
	}
	return nil
}

// RunEntry runs start -> under_test and returns the job outcome. A
// pass-through "start" entry is registered unless a module provides one.
func RunEntry(t *testing.T, run EntryRun) *EntryOutcome {
	t.Helper()

	reg := registry.NewWith(run.Modules...)
	if !reg.HasEntry(job.StartType) {
		reg.RegisterEntry(job.StartType, &registry.EntryPlugin{New: func(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
			return jobentry.Func(func(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
				return prev, nil
			}), nil
		}})
	}

	opts := run.Options
	if opts == nil {
		opts = config.Options{}
	}
	meta := &config.Job{
		Name: "test_" + run.Type,
		Entries: []*config.Entry{
			{Name: "start", Type: job.StartType, Options: config.Options{}},
			{Name: UnderTest, Type: run.Type, Options: opts},
		},
		Hops: []*config.JobHop{{From: "start", To: UnderTest}},
	}
	require.NoError(t, job.Validate(meta, reg), "harness job must be valid")

	catalog := run.Catalog
	if catalog == nil {
		catalog = config.NewModel()
	}
	process := variables.NewProcess(run.Process)
	ec := engine.New(reg, process, catalog)

	var logs LogBuffer
	timeout := run.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, NewLogger(&logs))

	j := job.New(ec, meta, job.Options{Previous: run.Previous, Params: run.Params})
	res, err := j.Execute(ctx)
	require.NotNil(t, res)
	return &EntryOutcome{Result: res, Err: err, Job: j, Process: process, Logs: logs.String()}
}
