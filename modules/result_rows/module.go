// Package result_rows bridges rows between a transformation and the job
// that runs it.
package result_rows

import (
	"context"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// ToResult copies every row into the transformation result and passes it on.
type ToResult struct{}

func (s *ToResult) Init(ctx context.Context, sc *step.Context) error { return nil }

func (s *ToResult) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	sc.AddResultRow(sc.InputMeta(), r.Clone())
	sc.IncLinesOutput()
	return true, sc.PutRow(ctx, sc.InputMeta(), r)
}

func (s *ToResult) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// FromResult emits the rows of the previous result handed over by the job.
type FromResult struct {
	rows []result.Row
	next int
}

func (s *FromResult) Init(ctx context.Context, sc *step.Context) error {
	s.rows = sc.PreviousResult().Rows
	sc.Logger().Debug("Reading rows from previous result.", "rows", len(s.rows))
	return nil
}

func (s *FromResult) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	if len(s.rows) == 0 {
		return row.NewMeta(), nil
	}
	return s.rows[0].Meta, nil
}

func (s *FromResult) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	if s.next >= len(s.rows) {
		return false, nil
	}
	rr := s.rows[s.next]
	s.next++
	sc.IncLinesInput()
	return true, sc.PutRow(ctx, rr.Meta, rr.Row.Clone())
}

func (s *FromResult) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// Register registers both steps with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("rows_to_result", &registry.StepPlugin{
		New:         func() step.Step { return &ToResult{} },
		Description: "Copies rows into the result of the transformation.",
	})
	r.RegisterStep("rows_from_result", &registry.StepPlugin{
		New:         func() step.Step { return &FromResult{} },
		Description: "Reads the rows of the previous result.",
	})
}
