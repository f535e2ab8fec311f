// Package yaml_adapter loads transformation and job definitions from YAML
// files into the format-agnostic config.Model.
package yaml_adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
	"gopkg.in/yaml.v3"
)

type document struct {
	Transformations []transformation `yaml:"transformations"`
	Jobs            []job            `yaml:"jobs"`
}

type errorHandling struct {
	Target            string `yaml:"target"`
	NrErrorsField     string `yaml:"nr_errors_field"`
	DescriptionsField string `yaml:"descriptions_field"`
	FieldsField       string `yaml:"fields_field"`
	CodesField        string `yaml:"codes_field"`
	MaxErrors         int64  `yaml:"max_errors"`
	MaxPercentErrors  int    `yaml:"max_percent_errors"`
	MinPercentRows    int64  `yaml:"min_percent_rows"`
}

type step struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	Copies        int            `yaml:"copies"`
	Options       map[string]any `yaml:"options"`
	ErrorHandling *errorHandling `yaml:"error_handling"`
}

type hop struct {
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	Distribution string `yaml:"distribution"`
	Enabled      *bool  `yaml:"enabled"`
	Error        bool   `yaml:"error"`
}

type transformation struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	RowSetSize  int               `yaml:"rowset_size"`
	Parameters  map[string]string `yaml:"parameters"`
	Steps       []step            `yaml:"steps"`
	Hops        []hop             `yaml:"hops"`
}

type entry struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Parallel   bool           `yaml:"parallel"`
	KeepErrors bool           `yaml:"keep_errors"`
	Options    map[string]any `yaml:"options"`
}

type jobHop struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition"`
	Enabled   *bool  `yaml:"enabled"`
}

type job struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Parameters  map[string]string `yaml:"parameters"`
	Entries     []entry           `yaml:"entries"`
	Hops        []jobHop          `yaml:"hops"`
}

// Loader implements config.Loader for .yaml and .yml files.
type Loader struct{}

// NewLoader creates a new YAML definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load decodes every YAML file under paths. A file may hold several
// documents separated by "---".
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := config.FindFiles(ctx, paths, ".yaml", ".yml")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered YAML files.", "count", len(files))

	model := config.NewModel()
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read YAML file %s: %w", file, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		for {
			var doc document
			if err := dec.Decode(&doc); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, fmt.Errorf("failed to decode YAML file %s: %w", file, err)
			}
			if err := addDocument(model, &doc); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
	}
	logger.Debug("YAML loading complete.", "transformations", len(model.Transformations), "jobs", len(model.Jobs))
	return model, nil
}

func addDocument(model *config.Model, doc *document) error {
	for _, t := range doc.Transformations {
		if err := model.AddTransformation(translateTransformation(t)); err != nil {
			return err
		}
	}
	for _, j := range doc.Jobs {
		if err := model.AddJob(translateJob(j)); err != nil {
			return err
		}
	}
	return nil
}

func translateTransformation(t transformation) *config.Transformation {
	out := &config.Transformation{
		Name:        t.Name,
		Description: t.Description,
		RowSetSize:  t.RowSetSize,
		Parameters:  t.Parameters,
	}
	for _, s := range t.Steps {
		copies := s.Copies
		if copies == 0 {
			copies = 1
		}
		cs := &config.Step{Name: s.Name, Type: s.Type, Copies: copies, Options: options(s.Options)}
		if eh := s.ErrorHandling; eh != nil {
			cs.ErrorHandling = &config.ErrorHandling{
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
		out.Steps = append(out.Steps, cs)
	}
	for _, h := range t.Hops {
		out.Hops = append(out.Hops, &config.Hop{
			From:         h.From,
			To:           h.To,
			Distribution: config.Distribution(h.Distribution),
			Disabled:     h.Enabled != nil && !*h.Enabled,
			Error:        h.Error,
		})
	}
	return out
}

func translateJob(j job) *config.Job {
	out := &config.Job{Name: j.Name, Description: j.Description, Parameters: j.Parameters}
	for _, e := range j.Entries {
		out.Entries = append(out.Entries, &config.Entry{
			Name:       e.Name,
			Type:       e.Type,
			Options:    options(e.Options),
			Parallel:   e.Parallel,
			KeepErrors: e.KeepErrors,
		})
	}
	for _, h := range j.Hops {
		out.Hops = append(out.Hops, &config.JobHop{
			From:      h.From,
			To:        h.To,
			Condition: config.Condition(h.Condition),
			Disabled:  h.Enabled != nil && !*h.Enabled,
		})
	}
	return out
}

func options(m map[string]any) config.Options {
	if m == nil {
		return config.Options{}
	}
	return config.Options(m)
}
