package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/hopgrid/internal/ctxlog"
	"github.com/vk/hopgrid/internal/job"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/trans"
)

// RunError reports an unsuccessful run. Its exit code is the explicit exit
// status of the result when one was set, otherwise 1.
type RunError struct {
	Kind   string
	Name   string
	Result *result.Result
	Err    error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s '%s' failed with %d errors", e.Kind, e.Name, e.Result.NrErrors)
	if e.Result.Stopped {
		msg = fmt.Sprintf("%s '%s' was stopped", e.Kind, e.Name)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code for this failure.
func (e *RunError) ExitCode() int {
	if e.Result.ExitStatus != nil {
		return *e.Result.ExitStatus
	}
	return 1
}

// Run executes the selected job or transformation and blocks until it ends.
// Cancelling ctx stops the run cooperatively.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.StatusPort > 0 {
		a.startStatusServer(ctx, a.config.StatusPort)
		defer a.closeStatusServer(ctx)
	}

	a.logger.Info("Step types registered:", "count", len(a.registry.StepTypes()), "keys", a.registry.StepTypes())
	a.logger.Info("Job entry types registered:", "count", len(a.registry.EntryTypes()), "keys", a.registry.EntryTypes())

	var (
		res  *result.Result
		err  error
		kind string
		name string
	)
	if a.config.Job != "" {
		kind, name = "job", a.config.Job
		res, err = a.runJob(ctx, name)
	} else {
		kind, name = "transformation", a.config.Trans
		res, err = a.runTransformation(ctx, name)
	}
	if res == nil {
		return err
	}

	a.logger.Info("🏁 Run finished.",
		"kind", kind,
		"name", name,
		"success", res.Success,
		"errors", res.NrErrors,
		"stopped", res.Stopped,
		"read", res.Lines.Read,
		"written", res.Lines.Written,
		"rejected", res.Lines.Rejected,
		"result_rows", len(res.Rows),
		"result_files", len(res.Files),
	)

	if !res.Success || res.Stopped || (res.ExitStatus != nil && *res.ExitStatus != 0) {
		return &RunError{Kind: kind, Name: name, Result: res, Err: err}
	}
	a.logger.Debug("App.Run method finished.")
	return err
}

func (a *App) runJob(ctx context.Context, name string) (*result.Result, error) {
	meta, err := a.model.Job(name)
	if err != nil {
		return nil, err
	}
	j := job.New(a.engine, meta, job.Options{})
	stop := context.AfterFunc(ctx, j.Stop)
	defer stop()
	return j.Execute(ctx)
}

func (a *App) runTransformation(ctx context.Context, name string) (*result.Result, error) {
	meta, err := a.model.Transformation(name)
	if err != nil {
		return nil, err
	}
	t := trans.New(a.engine, meta, trans.Options{})
	res, err := t.Execute(ctx)
	if err != nil {
		return res, err
	}
	if terr := t.Err(); terr != nil && !errors.Is(terr, context.Canceled) {
		return res, terr
	}
	return res, nil
}
