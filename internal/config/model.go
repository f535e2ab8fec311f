package config

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned by Model lookups for unknown definitions.
var ErrNotFound = errors.New("definition not found")

// Model is the merged content of all loaded definition files.
type Model struct {
	Transformations map[string]*Transformation
	Jobs            map[string]*Job
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		Transformations: make(map[string]*Transformation),
		Jobs:            make(map[string]*Job),
	}
}

// AddTransformation registers t, rejecting duplicate names.
func (m *Model) AddTransformation(t *Transformation) error {
	if _, exists := m.Transformations[t.Name]; exists {
		return fmt.Errorf("transformation %q defined more than once", t.Name)
	}
	m.Transformations[t.Name] = t
	return nil
}

// AddJob registers j, rejecting duplicate names.
func (m *Model) AddJob(j *Job) error {
	if _, exists := m.Jobs[j.Name]; exists {
		return fmt.Errorf("job %q defined more than once", j.Name)
	}
	m.Jobs[j.Name] = j
	return nil
}

// Merge adds every definition of other into m.
func (m *Model) Merge(other *Model) error {
	for _, t := range other.Transformations {
		if err := m.AddTransformation(t); err != nil {
			return err
		}
	}
	for _, j := range other.Jobs {
		if err := m.AddJob(j); err != nil {
			return err
		}
	}
	return nil
}

// Transformation implements Catalog.
func (m *Model) Transformation(name string) (*Transformation, error) {
	if t, ok := m.Transformations[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("transformation %q: %w", name, ErrNotFound)
}

// Job implements Catalog.
func (m *Model) Job(name string) (*Job, error) {
	if j, ok := m.Jobs[name]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("job %q: %w", name, ErrNotFound)
}

// JobNames returns the sorted job names.
func (m *Model) JobNames() []string {
	names := make([]string, 0, len(m.Jobs))
	for n := range m.Jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TransformationNames returns the sorted transformation names.
func (m *Model) TransformationNames() []string {
	names := make([]string, 0, len(m.Transformations))
	for n := range m.Transformations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// --- Transformation ---

// Distribution selects how a hop spreads rows over the consumer's copies.
type Distribution string

const (
	RoundRobin Distribution = "round-robin"
	CopyToAll  Distribution = "copy-to-all"
)

// Transformation describes a dataflow graph.
type Transformation struct {
	Name        string
	Description string
	Steps       []*Step
	Hops        []*Hop
	// RowSetSize overrides the run's RowSet capacity when > 0.
	RowSetSize int
	// Parameters are defaults placed in the transformation's scope.
	Parameters map[string]string
}

// Step is one node of a transformation.
type Step struct {
	Name    string
	Type    string
	Copies  int
	Options Options
	// ErrorHandling enables routing of row-level errors; nil disables it.
	ErrorHandling *ErrorHandling
}

// StepByName returns the named step or nil.
func (t *Transformation) StepByName(name string) *Step {
	for _, s := range t.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Hop connects two steps.
type Hop struct {
	From         string
	To           string
	Distribution Distribution
	Disabled     bool
	// Error marks the hop carrying From's error rows.
	Error bool
}

// ErrorHandling configures where a step's error rows go and which fields
// describe the error.
type ErrorHandling struct {
	Target            string
	NrErrorsField     string
	DescriptionsField string
	FieldsField       string
	CodesField        string
	// MaxErrors fails the step once exceeded; 0 disables the limit.
	MaxErrors int64
	// MaxPercentErrors fails the step once the rejected share exceeds it,
	// evaluated after MinPercentRows rows have been read; 0 disables it.
	MaxPercentErrors int
	MinPercentRows   int64
}

// --- Job ---

// Condition guards a job hop.
type Condition string

const (
	Unconditional Condition = "unconditional"
	OnSuccess     Condition = "success"
	OnFailure     Condition = "failure"
)

// Job describes a control-flow graph.
type Job struct {
	Name        string
	Description string
	Entries     []*Entry
	Hops        []*JobHop
	Parameters  map[string]string
}

// Entry is one node of a job.
type Entry struct {
	Name    string
	Type    string
	Options Options
	// Parallel launches every satisfied outgoing hop concurrently.
	Parallel bool
	// KeepErrors keeps the predecessor's error count instead of resetting it.
	KeepErrors bool
}

// EntryByName returns the named entry or nil.
func (j *Job) EntryByName(name string) *Entry {
	for _, e := range j.Entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// JobHop connects two entries.
type JobHop struct {
	From      string
	To        string
	Condition Condition
	Disabled  bool
}
