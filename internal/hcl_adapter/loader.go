package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Transformations []*Transformation `hcl:"transformation,block"`
	Jobs            []*Job            `hcl:"job,block"`
	Remain          hcl.Body          `hcl:",remain"`
}

// Load parses every .hcl file under paths and merges their transformation
// and job blocks into one model. Names must be unique across files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	model := config.NewModel()

	hclFiles, err := config.FindFiles(ctx, paths, ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	parser := hclparse.NewParser()

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, t := range root.Transformations {
			def, err := l.translateTransformation(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if err := model.AddTransformation(def); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
		for _, j := range root.Jobs {
			def, err := l.translateJob(ctx, j)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if err := model.AddJob(def); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
	}

	logger.Debug("HCL loading complete.", "transformations", len(model.Transformations), "jobs", len(model.Jobs))
	return model, nil
}
