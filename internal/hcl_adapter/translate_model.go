// This file contains the logic for translating the HCL schema structs into
// the format-agnostic configuration model defined in the config package.

package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
)

// translateTransformation converts a transformation block into the agnostic model.
func (l *Loader) translateTransformation(ctx context.Context, t *Transformation) (*config.Transformation, error) {
	logger := ctxlog.FromContext(ctx).With("trans", t.Name)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Translating HCL transformation to internal config model.")

	out := &config.Transformation{
		Name:        t.Name,
		Description: t.Description,
		RowSetSize:  t.RowSetSize,
		Parameters:  t.Parameters,
	}
	for _, s := range t.Steps {
		opts, err := decodeArguments(ctx, s.Arguments)
		if err != nil {
			return nil, fmt.Errorf("transformation '%s', step '%s': %w", t.Name, s.Name, err)
		}
		step := &config.Step{
			Name:    s.Name,
			Type:    s.Type,
			Copies:  1,
			Options: opts,
		}
		if s.Copies != nil {
			step.Copies = *s.Copies
		}
		if eh := s.ErrorHandling; eh != nil {
			step.ErrorHandling = &config.ErrorHandling{
				Target:            eh.Target,
				NrErrorsField:     eh.NrErrorsField,
				DescriptionsField: eh.DescriptionsField,
				FieldsField:       eh.FieldsField,
				CodesField:        eh.CodesField,
				MaxErrors:         eh.MaxErrors,
				MaxPercentErrors:  eh.MaxPercentErrors,
				MinPercentRows:    eh.MinPercentRows,
			}
		}
		out.Steps = append(out.Steps, step)
	}
	for _, h := range t.Hops {
		out.Hops = append(out.Hops, &config.Hop{
			From:         h.From,
			To:           h.To,
			Distribution: config.Distribution(h.Distribution),
			Disabled:     !enabled(h.Enabled),
			Error:        h.Error,
		})
	}
	return out, nil
}

// translateJob converts a job block into the agnostic model.
func (l *Loader) translateJob(ctx context.Context, j *Job) (*config.Job, error) {
	logger := ctxlog.FromContext(ctx).With("job", j.Name)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Translating HCL job to internal config model.")

	out := &config.Job{
		Name:        j.Name,
		Description: j.Description,
		Parameters:  j.Parameters,
	}
	for _, e := range j.Entries {
		opts, err := decodeArguments(ctx, e.Arguments)
		if err != nil {
			return nil, fmt.Errorf("job '%s', entry '%s': %w", j.Name, e.Name, err)
		}
		out.Entries = append(out.Entries, &config.Entry{
			Name:       e.Name,
			Type:       e.Type,
			Options:    opts,
			Parallel:   e.Parallel,
			KeepErrors: e.KeepErrors,
		})
	}
	for _, h := range j.Hops {
		out.Hops = append(out.Hops, &config.JobHop{
			From:      h.From,
			To:        h.To,
			Condition: config.Condition(h.Condition),
			Disabled:  !enabled(h.Enabled),
		})
	}
	return out, nil
}
