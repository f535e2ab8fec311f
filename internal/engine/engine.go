// Package engine holds the execution context threaded through every run:
// the plugin registry, the process-wide variable scope, the definition
// catalog and run-wide settings. It replaces process globals; nested jobs
// and transformations receive the same *Context from their caller.
package engine

import (
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/rowset"
	"github.com/vk/hopgrid/internal/variables"
)

// Context is shared, read-mostly state for all runs of one application.
type Context struct {
	Registry *registry.Registry
	Process  *variables.Scope
	Catalog  config.Catalog
	// RowSetSize is the default RowSet capacity.
	RowSetSize int
	// Board tracks active and recent runs; may be nil.
	Board *Board
}

// New builds an execution context. A nil process scope gets a fresh one.
func New(reg *registry.Registry, process *variables.Scope, catalog config.Catalog) *Context {
	if process == nil {
		process = variables.NewProcess(nil)
	}
	if catalog == nil {
		catalog = config.NewModel()
	}
	return &Context{
		Registry:   reg,
		Process:    process,
		Catalog:    catalog,
		RowSetSize: rowset.DefaultCapacity,
		Board:      NewBoard(DefaultHistory),
	}
}

// RowSetCapacity resolves the capacity for a transformation, preferring its
// own override.
func (c *Context) RowSetCapacity(t *config.Transformation) int {
	if t != nil && t.RowSetSize > 0 {
		return t.RowSetSize
	}
	if c.RowSetSize > 0 {
		return c.RowSetSize
	}
	return rowset.DefaultCapacity
}
