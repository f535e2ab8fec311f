package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// --- Transformation structures ---

// Arguments is the free-form option block of a step or entry.
type Arguments struct {
	Body hcl.Body `hcl:",remain"`
}

// ErrorHandling is the `error_handling` block of a step.
type ErrorHandling struct {
	Target            string `hcl:"target,optional"`
	NrErrorsField     string `hcl:"nr_errors_field,optional"`
	DescriptionsField string `hcl:"descriptions_field,optional"`
	FieldsField       string `hcl:"fields_field,optional"`
	CodesField        string `hcl:"codes_field,optional"`
	MaxErrors         int64  `hcl:"max_errors,optional"`
	MaxPercentErrors  int    `hcl:"max_percent_errors,optional"`
	MinPercentRows    int64  `hcl:"min_percent_rows,optional"`
}

// Step is a `step "<type>" "<name>"` block.
type Step struct {
	Type          string         `hcl:"type,label"`
	Name          string         `hcl:"name,label"`
	Copies        *int           `hcl:"copies,optional"`
	Arguments     *Arguments     `hcl:"arguments,block"`
	ErrorHandling *ErrorHandling `hcl:"error_handling,block"`
}

// Hop is a `hop "<from>" "<to>"` block of a transformation.
type Hop struct {
	From         string `hcl:"from,label"`
	To           string `hcl:"to,label"`
	Distribution string `hcl:"distribution,optional"`
	Enabled      *bool  `hcl:"enabled,optional"`
	Error        bool   `hcl:"error,optional"`
}

// Transformation is a `transformation "<name>"` block.
type Transformation struct {
	Name        string            `hcl:"name,label"`
	Description string            `hcl:"description,optional"`
	RowSetSize  int               `hcl:"rowset_size,optional"`
	Parameters  map[string]string `hcl:"parameters,optional"`
	Steps       []*Step           `hcl:"step,block"`
	Hops        []*Hop            `hcl:"hop,block"`
}

// --- Job structures ---

// Entry is an `entry "<type>" "<name>"` block.
type Entry struct {
	Type       string     `hcl:"type,label"`
	Name       string     `hcl:"name,label"`
	Parallel   bool       `hcl:"parallel,optional"`
	KeepErrors bool       `hcl:"keep_errors,optional"`
	Arguments  *Arguments `hcl:"arguments,block"`
}

// JobHop is a `hop "<from>" "<to>"` block of a job.
type JobHop struct {
	From      string `hcl:"from,label"`
	To        string `hcl:"to,label"`
	Condition string `hcl:"condition,optional"`
	Enabled   *bool  `hcl:"enabled,optional"`
}

// Job is a `job "<name>"` block.
type Job struct {
	Name        string            `hcl:"name,label"`
	Description string            `hcl:"description,optional"`
	Parameters  map[string]string `hcl:"parameters,optional"`
	Entries     []*Entry          `hcl:"entry,block"`
	Hops        []*JobHop         `hcl:"hop,block"`
}
