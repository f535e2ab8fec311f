package testutil

import (
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/step"
)

// SimpleModule registers a fixed set of step and entry constructors. It lets
// tests plug ad-hoc implementations into a registry without a module package.
type SimpleModule struct {
	Steps   map[string]func() step.Step
	Entries map[string]jobentry.Factory
}

// Register implements registry.Module.
func (m *SimpleModule) Register(r *registry.Registry) {
	for id, f := range m.Steps {
		r.RegisterStep(id, &registry.StepPlugin{New: f, Description: "test step"})
	}
	for id, f := range m.Entries {
		r.RegisterEntry(id, &registry.EntryPlugin{New: f, Description: "test entry"})
	}
}
