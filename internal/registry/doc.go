// Package registry provides the central "glue" for the plugin system.
//
// The Registry maps the string identifiers used in definition files (e.g.,
// `type = "generate_rows"`) to the compiled Go constructors of step and job
// entry plugins. There is no runtime discovery: every plugin package exposes
// a Module whose Register method is called once at application startup.
//
// After the definitions are loaded, ValidateModel checks that every step and
// entry type they reference is registered, so a typo in a definition file is
// reported before anything runs.
package registry
