// Package database provides the steps and the job entry that talk to SQL
// databases through database/sql. Supported drivers are mysql, postgres,
// pgx, sqlite and sqlserver.
package database

import (
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/step"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the steps and the entry with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("table_input", &registry.StepPlugin{
		New:         func() step.Step { return &TableInput{} },
		Description: "Reads rows from a database query.",
	})
	r.RegisterStep("table_output", &registry.StepPlugin{
		New:         func() step.Step { return &TableOutput{} },
		Description: "Inserts rows into a database table.",
	})
	r.RegisterEntry("sql", &registry.EntryPlugin{
		New:         newSQLEntry,
		Description: "Executes SQL statements.",
	})
}
