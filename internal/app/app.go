package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
	"github.com/vk/hopgrid/internal/engine"
	"github.com/vk/hopgrid/internal/job"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/trans"
	"github.com/vk/hopgrid/internal/variables"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *registry.Registry
	model    *config.Model
	engine   *engine.Context

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It loads every
// definition, registers the modules and builds the execution context.
// Definition errors are fatal startup errors and panic.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.Paths...)
	if err != nil {
		panic(fmt.Errorf("failed to load definitions: %w", err))
	}
	logger.Debug("Definitions loaded.", "transformations", len(model.Transformations), "jobs", len(model.Jobs))

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := registry.NewWith(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules))

	if err := validate(ctx, reg, model); err != nil {
		panic(err)
	}
	logger.Debug("Definitions validated.")

	process := variables.NewProcess(cfg.Params)
	ec := engine.New(reg, process, model)
	if cfg.RowSetSize > 0 {
		ec.RowSetSize = cfg.RowSetSize
	}

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		model:    model,
		engine:   ec,
	}
}

func validate(ctx context.Context, reg *registry.Registry, model *config.Model) error {
	errs := []error{reg.ValidateModel(ctx, model)}
	for _, name := range model.TransformationNames() {
		errs = append(errs, trans.Validate(model.Transformations[name], reg))
	}
	for _, name := range model.JobNames() {
		errs = append(errs, job.Validate(model.Jobs[name], reg))
	}
	return errors.Join(errs...)
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Engine returns the execution context shared by every run.
func (a *App) Engine() *engine.Context {
	return a.engine
}
