// Package write_to_log provides a step that logs the rows passing through
// it and a job entry that logs a message.
package write_to_log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return l, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Step logs each row as key/value pairs and passes it on. Options: level,
// message, fields (subset to log, all by default), limit (rows to log).
type Step struct {
	level   slog.Level
	message string
	names   []string
	limit   int64
	logged  int64
	idx     []int
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	var err error
	if s.level, err = parseLevel(opts.String("level", "info")); err != nil {
		return err
	}
	s.message = sc.Expand(opts.String("message", "Row"))
	s.names = opts.Strings("fields")
	s.limit = opts.Int64("limit", 0)
	return nil
}

func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	if len(s.names) == 0 {
		s.names = in.Names()
	}
	for _, name := range s.names {
		i := in.IndexOf(name)
		if i < 0 {
			return nil, fmt.Errorf("field %q not found in %s", name, in)
		}
		s.idx = append(s.idx, i)
	}
	return in, nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	if s.limit <= 0 || s.logged < s.limit {
		s.logged++
		meta := sc.InputMeta()
		attrs := make([]any, 0, len(s.idx))
		for _, i := range s.idx {
			vm := meta.Field(i)
			attrs = append(attrs, slog.String(vm.Name, vm.Render(r[i])))
		}
		sc.Logger().Log(ctx, s.level, s.message, attrs...)
	}
	return true, sc.PutRow(ctx, sc.InputMeta(), r)
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// newEntry builds the entry that logs a message with the previous result
// summary. Logging always succeeds, so the passed-on result is marked
// successful.
func newEntry(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	level, err := parseLevel(opts.String("level", "info"))
	if err != nil {
		return nil, err
	}
	return jobentry.Func(func(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
		msg := env.Scope().Expand(opts.String("message", ""))
		env.Logger().Log(ctx, level, msg,
			"job", env.JobName(),
			"previous_success", prev.Success,
			"previous_errors", prev.NrErrors,
			"previous_rows", len(prev.Rows),
		)
		prev.Success = true
		return prev, nil
	}), nil
}

// Register registers the step and the entry with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("write_to_log", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Writes rows to the log.",
	})
	r.RegisterEntry("write_to_log", &registry.EntryPlugin{
		New:         newEntry,
		Description: "Writes a message to the log.",
	})
}
