package app

import (
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/hcl_adapter"
	"github.com/vk/hopgrid/internal/yaml_adapter"
)

// DefaultLoader reads .hcl files with the HCL adapter and .yaml/.yml files
// with the YAML adapter.
func DefaultLoader() config.Loader {
	return config.Loaders{hcl_adapter.NewLoader(), yaml_adapter.NewLoader()}
}
