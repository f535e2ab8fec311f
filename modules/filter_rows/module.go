// Package filter_rows provides a step that routes rows by a condition on
// one field.
package filter_rows

import (
	"context"
	"fmt"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Step evaluates "field operator value" for each row. Matching rows go to
// send_true_to and the others to send_false_to. Without targets, matching
// rows go to every outgoing hop and the others are dropped.
type Step struct {
	fieldName string
	op        operator
	raw       string
	trueTo    string
	falseTo   string
	cond      *condition
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	var err error
	if s.fieldName, err = opts.Required("field"); err != nil {
		return err
	}
	if s.op, err = parseOperator(opts.String("operator", "=")); err != nil {
		return err
	}
	s.raw = sc.Expand(opts.String("value", ""))
	s.trueTo = opts.String("send_true_to", "")
	s.falseTo = opts.String("send_false_to", "")
	if s.falseTo != "" && s.trueTo == "" {
		return fmt.Errorf("send_false_to requires send_true_to")
	}
	return nil
}

func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	idx := in.IndexOf(s.fieldName)
	if idx < 0 {
		return nil, fmt.Errorf("field %q not found in %s", s.fieldName, in)
	}
	s.cond = &condition{field: idx, vm: in.Field(idx), op: s.op}
	if s.op != opIsNull && s.op != opNotNull {
		if s.op == opContains || s.op == opStartsWith {
			s.cond.value = s.raw
		} else {
			v, err := in.Field(idx).Convert(s.raw)
			if err != nil {
				return nil, err
			}
			s.cond.value = v
		}
	}
	return in, nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	ok, err := s.cond.eval(r)
	if err != nil {
		return true, step.NewRowError("FILTER001", s.fieldName, err)
	}
	switch {
	case ok && s.trueTo != "":
		return true, sc.PutRowTo(ctx, s.trueTo, nil, r)
	case !ok && s.falseTo != "":
		return true, sc.PutRowTo(ctx, s.falseTo, nil, r)
	case ok:
		return true, sc.PutRow(ctx, nil, r)
	}
	return true, nil
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("filter_rows", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Sends rows to one of two hops depending on a condition.",
	})
}
