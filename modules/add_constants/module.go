// Package add_constants provides a step that appends constant fields to
// every row.
package add_constants

import (
	"context"
	"fmt"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
	"github.com/vk/hopgrid/modules/internal/fields"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Step appends the declared "fields" to each incoming row. The output meta
// is derived from the first input meta and never mutates it.
type Step struct {
	fields []fields.Field
	values row.Row
	inSize int
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	var err error
	if s.fields, err = fields.Parse(sc.Options().Objects("fields")); err != nil {
		return err
	}
	if len(s.fields) == 0 {
		return fmt.Errorf("no constant fields declared")
	}
	s.values, err = fields.Values(s.fields, sc.Scope())
	return err
}

func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	for _, f := range s.fields {
		if in.IndexOf(f.Meta.Name) >= 0 {
			return nil, fmt.Errorf("field %q already exists in the input", f.Meta.Name)
		}
	}
	s.inSize = in.Size()
	return in.Extend(fields.Metas(s.fields)...), nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	out := append(r.Resize(s.inSize), s.values...)
	return true, sc.PutRow(ctx, nil, out)
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("add_constants", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Adds constant fields to each row.",
	})
}
