// Package set_variables provides a job entry that writes variables at a
// chosen level of the job hierarchy.
package set_variables

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/variables"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type assignment struct {
	name  string
	value string
	level variables.Level
}

// Entry sets each assignment in order. Options:
//
//	level      default level, current_job when empty
//	variables  either a {NAME: value} object or a list of {name, value, level}
type Entry struct {
	env     jobentry.Env
	assigns []assignment
}

func newEntry(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	def, err := variables.ParseLevel(opts.String("level", ""))
	if err != nil {
		return nil, err
	}
	e := &Entry{env: env}
	if list := opts.Objects("variables"); len(list) > 0 {
		for _, o := range list {
			name, err := o.Required("name")
			if err != nil {
				return nil, err
			}
			level := def
			if s := o.String("level", ""); s != "" {
				if level, err = variables.ParseLevel(s); err != nil {
					return nil, fmt.Errorf("variable %s: %w", name, err)
				}
			}
			e.assigns = append(e.assigns, assignment{name: name, value: o.String("value", ""), level: level})
		}
	} else {
		values := opts.StringMap("variables")
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			e.assigns = append(e.assigns, assignment{name: name, value: values[name], level: def})
		}
	}
	if len(e.assigns) == 0 {
		return nil, fmt.Errorf("no variables to set")
	}
	return e, nil
}

func (e *Entry) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	for _, a := range e.assigns {
		value := e.env.Scope().Expand(a.value)
		if err := e.env.SetVariable(a.level, a.name, value); err != nil {
			return nil, err
		}
		e.env.Logger().Debug("Variable set.", "name", a.name, "level", a.level.String())
	}
	prev.Success = true
	return prev, nil
}

// Register registers the entry with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterEntry("set_variables", &registry.EntryPlugin{
		New:         newEntry,
		Description: "Sets variables in the current, parent, grand-parent or root job, or the process.",
	})
}
