// Package config defines the format-agnostic description of transformations
// and jobs, along with the Loader interface that turns HCL or YAML files
// into it.
//
// The `config.Model` is the single source of truth for the `trans` and `job`
// packages. Concrete loaders live in `hcl_adapter` and `yaml_adapter`.
package config
