// Package dummy provides a step that passes every row through unchanged.
// It is handy as a join point or as a placeholder target for hops.
package dummy

import (
	"context"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/step"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type Step struct{}

func (s *Step) Init(ctx context.Context, sc *step.Context) error { return nil }

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	return true, sc.PutRow(ctx, sc.InputMeta(), r)
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error { return nil }

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("dummy", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Does nothing; rows pass through unchanged.",
	})
}
