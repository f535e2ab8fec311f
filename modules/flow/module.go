// Package flow provides the job entries that steer traversal: start,
// success and check_variable.
package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// newStart builds the start entry. The job reads its repeat options
// (repeat, interval, schedule, max_iterations) itself; the entry only hands
// the incoming result on.
func newStart(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	return jobentry.Func(func(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
		env.Logger().Debug("Start entry reached.", "job", env.JobName())
		prev.Success = true
		return prev, nil
	}), nil
}

// newSuccess builds an entry that clears errors and marks the result as
// successful.
func newSuccess(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	return jobentry.Func(func(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
		prev.NrErrors = 0
		prev.Success = true
		return prev, nil
	}), nil
}

// checkVariable compares a variable with a value. The outcome becomes the
// result's success flag without counting an error, so failure hops can
// branch on it.
type checkVariable struct {
	env      jobentry.Env
	name     string
	operator string
	value    string
	pattern  *regexp.Regexp
}

func newCheckVariable(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	name, err := opts.Required("variable")
	if err != nil {
		return nil, err
	}
	c := &checkVariable{
		env:      env,
		name:     name,
		operator: strings.ToLower(opts.String("operator", "=")),
		value:    opts.String("value", ""),
	}
	switch c.operator {
	case "=", "!=", "contains", "set", "not_set":
	case "matches":
		if c.pattern, err = regexp.Compile(c.value); err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", c.operator)
	}
	return c, nil
}

func (c *checkVariable) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	got, set := c.env.Scope().Get(c.name)
	want := c.env.Scope().Expand(c.value)
	var ok bool
	switch c.operator {
	case "set":
		ok = set
	case "not_set":
		ok = !set
	case "=":
		ok = set && got == want
	case "!=":
		ok = !set || got != want
	case "contains":
		ok = set && strings.Contains(got, want)
	case "matches":
		ok = set && c.pattern.MatchString(got)
	}
	c.env.Logger().Debug("Variable checked.", "variable", c.name, "operator", c.operator, "value", want, "match", ok)
	prev.Success = ok
	return prev, nil
}

// Register registers the entries with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterEntry("start", &registry.EntryPlugin{
		New:         newStart,
		Description: "Starts the job, optionally on a repeat schedule.",
	})
	r.RegisterEntry("success", &registry.EntryPlugin{
		New:         newSuccess,
		Description: "Clears errors and ends the branch successfully.",
	})
	r.RegisterEntry("check_variable", &registry.EntryPlugin{
		New:         newCheckVariable,
		Description: "Compares a variable with a value.",
	})
}
