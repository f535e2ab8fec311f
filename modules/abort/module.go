// Package abort provides a step and a job entry that fail the run on
// purpose.
package abort

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/step"
)

// ErrAborted is returned by the abort step and entry.
var ErrAborted = errors.New("aborted")

// Module implements the registry.Module interface for this package.
type Module struct{}

// Step passes rows through until more than row_threshold rows were read,
// then fails and stops the transformation.
type Step struct {
	threshold int64
	message   string
	logRows   bool
	seen      int64
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	s.threshold = opts.Int64("row_threshold", 0)
	if s.threshold < 0 {
		return fmt.Errorf("row_threshold must not be negative, got %d", s.threshold)
	}
	s.message = sc.Expand(opts.String("message", ""))
	s.logRows = opts.Bool("always_log_rows", false)
	return nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	s.seen++
	if s.logRows {
		sc.Logger().Info("Row reached abort step.", "row", sc.InputMeta().String(), "values", r)
	}
	if s.seen > s.threshold {
		msg := s.message
		if msg == "" {
			msg = fmt.Sprintf("row threshold of %d reached", s.threshold)
		}
		return false, step.Fatal(fmt.Errorf("%w: %s", ErrAborted, msg))
	}
	return true, sc.PutRow(ctx, sc.InputMeta(), r)
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// newEntry builds the abort job entry. It always fails with message.
func newEntry(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	return jobentry.Func(func(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
		msg := env.Scope().Expand(opts.String("message", "job aborted"))
		env.Logger().Error("⛔ Aborting job.", "message", msg)
		prev.Success = false
		return prev, fmt.Errorf("%w: %s", ErrAborted, msg)
	}), nil
}

// Register registers the step and the entry with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("abort", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Aborts the transformation after a number of rows.",
	})
	r.RegisterEntry("abort", &registry.EntryPlugin{
		New:         newEntry,
		Description: "Fails the job with a message.",
	})
}
