// Package env_vars provides a job entry that copies environment variables
// into the variable scope.
package env_vars

import (
	"context"
	"os"
	"strings"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/variables"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Entry copies the environment. Options: prefix (only names starting with
// it), strip_prefix, names (explicit list) and level (current_job default).
type Entry struct {
	env         jobentry.Env
	prefix      string
	stripPrefix bool
	names       []string
	level       variables.Level
}

func newEntry(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	level, err := variables.ParseLevel(opts.String("level", ""))
	if err != nil {
		return nil, err
	}
	return &Entry{
		env:         env,
		prefix:      opts.String("prefix", ""),
		stripPrefix: opts.Bool("strip_prefix", false),
		names:       opts.Strings("names"),
		level:       level,
	}, nil
}

// environ returns the environment as a map.
func environ() map[string]string {
	envMap := make(map[string]string)
	for _, e := range os.Environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 {
			envMap[pair[0]] = pair[1]
		}
	}
	return envMap
}

func (e *Entry) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	all := environ()
	selected := make(map[string]string)
	if len(e.names) > 0 {
		for _, name := range e.names {
			if v, ok := all[name]; ok {
				selected[name] = v
			}
		}
	} else {
		for name, v := range all {
			if !strings.HasPrefix(name, e.prefix) {
				continue
			}
			if e.stripPrefix && e.prefix != "" {
				name = strings.TrimPrefix(name, e.prefix)
				if name == "" {
					continue
				}
			}
			selected[name] = v
		}
	}
	for name, v := range selected {
		if err := e.env.SetVariable(e.level, name, v); err != nil {
			return nil, err
		}
	}
	e.env.Logger().Debug("Environment variables copied.", "count", len(selected), "level", e.level.String())
	prev.Success = true
	return prev, nil
}

// Register registers the entry with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterEntry("env_vars", &registry.EntryPlugin{
		New:         newEntry,
		Description: "Copies environment variables into the variable scope.",
	})
}
