// Package nested provides the job entries that run another transformation
// or job from the catalog.
package nested

import (
	"context"
	"fmt"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type runner func(ctx context.Context, name string, prev *result.Result, params map[string]string) (*result.Result, error)

// Entry runs a nested definition synchronously. Options:
//
//	trans | job   name of the definition, may reference variables
//	params        {NAME: value} set in the nested run's scope
//	clear_rows    drop the incoming result rows before the run
//	clear_files   drop the incoming result files before the run
type Entry struct {
	env    jobentry.Env
	kind   string
	name   string
	params map[string]string
	clear  struct{ rows, files bool }
	run    runner
}

func factory(kind string) jobentry.Factory {
	return func(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
		name, err := opts.Required(kind)
		if err != nil {
			return nil, err
		}
		e := &Entry{env: env, kind: kind, name: name, params: opts.StringMap("params")}
		e.clear.rows = opts.Bool("clear_rows", false)
		e.clear.files = opts.Bool("clear_files", false)
		switch kind {
		case "trans":
			e.run = env.RunTransformation
		case "job":
			e.run = env.RunJob
		default:
			return nil, fmt.Errorf("unknown nested kind %q", kind)
		}
		return e, nil
	}
}

func (e *Entry) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	scope := e.env.Scope()
	name := scope.Expand(e.name)
	params := make(map[string]string, len(e.params))
	for k, v := range e.params {
		params[k] = scope.Expand(v)
	}
	if e.clear.rows {
		prev.Rows = nil
	}
	if e.clear.files {
		prev.Files = map[string]result.File{}
	}

	logger := e.env.Logger().With(e.kind, name)
	logger.Info("▶️ Running nested "+e.kind+".", "params", len(params))
	res, err := e.run(ctx, name, prev, params)
	if res == nil {
		return nil, err
	}
	if err != nil {
		// the nested result already counts the failure.
		logger.Error("Nested "+e.kind+" failed.", "error", err)
	}
	res.Success = res.Success && res.NrErrors == 0
	logger.Info("Nested "+e.kind+" finished.", "success", res.Success, "errors", res.NrErrors)
	return res, nil
}

// Register registers the entries with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterEntry("trans", &registry.EntryPlugin{
		New:         factory("trans"),
		Description: "Runs a transformation and waits for it.",
	})
	r.RegisterEntry("job", &registry.EntryPlugin{
		New:         factory("job"),
		Description: "Runs a job and waits for it.",
	})
}
