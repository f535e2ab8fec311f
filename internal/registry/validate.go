package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
)

// ValidateModel checks that every step and entry type referenced by the
// model is registered.
func (r *Registry) ValidateModel(ctx context.Context, model *config.Model) error {
	logger := ctxlog.FromContext(ctx)
	var errs []string

	for _, name := range model.TransformationNames() {
		t := model.Transformations[name]
		for _, s := range t.Steps {
			if !r.HasStep(s.Type) {
				errs = append(errs, fmt.Sprintf("transformation '%s', step '%s': unknown step type '%s'", t.Name, s.Name, s.Type))
			}
		}
	}
	for _, name := range model.JobNames() {
		j := model.Jobs[name]
		for _, e := range j.Entries {
			if !r.HasEntry(e.Type) {
				errs = append(errs, fmt.Sprintf("job '%s', entry '%s': unknown job entry type '%s'", j.Name, e.Name, e.Type))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New("registry validation failed:\n- " + strings.Join(errs, "\n- "))
	}
	logger.Debug("Registry validation passed.", "step_types", len(r.steps), "entry_types", len(r.entries))
	return nil
}
