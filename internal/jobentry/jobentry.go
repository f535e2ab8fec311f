// Package jobentry defines the contract of a job entry and the handle it
// receives to the job that runs it.
package jobentry

import (
	"context"
	"log/slog"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/variables"
)

// Env is the running job as seen by one of its entries.
type Env interface {
	// JobName returns the name of the running job.
	JobName() string
	// Scope returns the running job's variable scope.
	Scope() *variables.Scope
	// SetVariable writes name at the given level of the job hierarchy.
	SetVariable(level variables.Level, name, value string) error
	// RunTransformation runs the named transformation synchronously with
	// the job's scope as parent and prev as its previous result.
	RunTransformation(ctx context.Context, name string, prev *result.Result, params map[string]string) (*result.Result, error)
	// RunJob runs the named job synchronously as a child of the running job.
	RunJob(ctx context.Context, name string, prev *result.Result, params map[string]string) (*result.Result, error)
	// Stopped reports whether a stop was requested for the running job.
	Stopped() bool
	// Logger returns the job's logger.
	Logger() *slog.Logger
}

// Entry is one executable node of a job. A new Entry is built for every
// execution, so implementations may keep per-run state in fields.
type Entry interface {
	// Execute runs the entry. prev is a private copy of the predecessor's
	// result; nr is the position of this execution in the job. The returned
	// result decides which hops are followed. A non-nil error is an
	// unexpected failure and is recorded as one error on the result.
	Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error)
}

// Factory builds an Entry bound to the running job.
type Factory func(env Env, opts config.Options) (Entry, error)

// Func adapts a function to Entry.
type Func func(ctx context.Context, prev *result.Result, nr int) (*result.Result, error)

// Execute implements Entry.
func (f Func) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	return f(ctx, prev, nr)
}
