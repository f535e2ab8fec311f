package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/step"
)

// Module is the interface that all plugin packages implement to be registered.
type Module interface {
	Register(r *Registry)
}

// StepPlugin describes a step type.
type StepPlugin struct {
	New         func() step.Step
	Description string
}

// EntryPlugin describes a job entry type.
type EntryPlugin struct {
	New         jobentry.Factory
	Description string
}

// Registry holds the plugins of a single application instance.
type Registry struct {
	steps   map[string]*StepPlugin
	entries map[string]*EntryPlugin
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		steps:   make(map[string]*StepPlugin),
		entries: make(map[string]*EntryPlugin),
	}
}

// NewWith creates a Registry and registers the given modules.
func NewWith(modules ...Module) *Registry {
	r := New()
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// RegisterStep registers a step type. Duplicate ids are a programmer error.
func (r *Registry) RegisterStep(id string, p *StepPlugin) {
	if _, exists := r.steps[id]; exists {
		panic(fmt.Sprintf("step type '%s' already registered", id))
	}
	slog.Debug("Registering step type.", "id", id)
	r.steps[id] = p
}

// RegisterEntry registers a job entry type. Duplicate ids are a programmer error.
func (r *Registry) RegisterEntry(id string, p *EntryPlugin) {
	if _, exists := r.entries[id]; exists {
		panic(fmt.Sprintf("job entry type '%s' already registered", id))
	}
	slog.Debug("Registering job entry type.", "id", id)
	r.entries[id] = p
}

// NewStep instantiates a step of the given type.
func (r *Registry) NewStep(id string) (step.Step, error) {
	p, ok := r.steps[id]
	if !ok {
		return nil, fmt.Errorf("unknown step type '%s'", id)
	}
	return p.New(), nil
}

// EntryFactory returns the constructor of the given entry type.
func (r *Registry) EntryFactory(id string) (jobentry.Factory, error) {
	p, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("unknown job entry type '%s'", id)
	}
	return p.New, nil
}

// HasStep reports whether id is a registered step type.
func (r *Registry) HasStep(id string) bool {
	_, ok := r.steps[id]
	return ok
}

// HasEntry reports whether id is a registered entry type.
func (r *Registry) HasEntry(id string) bool {
	_, ok := r.entries[id]
	return ok
}

// StepTypes returns the sorted registered step ids.
func (r *Registry) StepTypes() []string {
	return sortedKeys(r.steps)
}

// EntryTypes returns the sorted registered entry ids.
func (r *Registry) EntryTypes() []string {
	return sortedKeys(r.entries)
}

// Describe returns the description of a step or entry type.
func (r *Registry) Describe(id string) string {
	if p, ok := r.steps[id]; ok {
		return p.Description
	}
	if p, ok := r.entries[id]; ok {
		return p.Description
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
