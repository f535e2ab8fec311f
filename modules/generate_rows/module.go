// Package generate_rows provides a step that emits a fixed number of
// identical rows built from declared constant fields.
package generate_rows

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
	"github.com/vk/hopgrid/modules/internal/fields"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Step generates rows. Options:
//
//	limit        number of rows, default 10; may reference variables
//	never_ending emit until the transformation is stopped
//	interval     pause between rows (duration or milliseconds)
//	fields       list of {name, type, format, length, precision, value}
type Step struct {
	meta        *row.Meta
	values      row.Row
	limit       int64
	neverEnding bool
	interval    time.Duration
	written     int64
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	fs, err := fields.Parse(opts.Objects("fields"))
	if err != nil {
		return err
	}
	s.meta = row.NewMeta(fields.Metas(fs)...)
	if s.values, err = fields.Values(fs, sc.Scope()); err != nil {
		return err
	}

	limit := sc.Expand(opts.String("limit", "10"))
	if s.limit, err = strconv.ParseInt(limit, 10, 64); err != nil || s.limit < 0 {
		return fmt.Errorf("invalid limit %q", limit)
	}
	s.neverEnding = opts.Bool("never_ending", false)
	s.interval = opts.Duration("interval", 0)
	sc.Logger().Debug("Row generator ready.", "limit", s.limit, "never_ending", s.neverEnding, "fields", s.meta.String())
	return nil
}

func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	return s.meta, nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	if !s.neverEnding && s.written >= s.limit {
		return false, nil
	}
	if s.interval > 0 && s.written > 0 {
		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if err := sc.PutRow(ctx, nil, s.values.Clone()); err != nil {
		return false, err
	}
	s.written++
	return true, nil
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("generate_rows", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Generates a number of rows with constant fields.",
	})
}
