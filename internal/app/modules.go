package app

import (
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/modules/abort"
	"github.com/vk/hopgrid/modules/add_constants"
	"github.com/vk/hopgrid/modules/database"
	"github.com/vk/hopgrid/modules/dummy"
	"github.com/vk/hopgrid/modules/env_vars"
	"github.com/vk/hopgrid/modules/filter_rows"
	"github.com/vk/hopgrid/modules/flow"
	"github.com/vk/hopgrid/modules/generate_rows"
	"github.com/vk/hopgrid/modules/nested"
	"github.com/vk/hopgrid/modules/pg_bulk_loader"
	"github.com/vk/hopgrid/modules/result_rows"
	"github.com/vk/hopgrid/modules/s3_put_files"
	"github.com/vk/hopgrid/modules/set_variables"
	"github.com/vk/hopgrid/modules/socketio_output"
	"github.com/vk/hopgrid/modules/string_operations"
	"github.com/vk/hopgrid/modules/unique_rows"
	"github.com/vk/hopgrid/modules/wait_for_file"
	"github.com/vk/hopgrid/modules/web_service_available"
	"github.com/vk/hopgrid/modules/write_to_log"
)

// coreModules is the definitive list of all modules that are compiled into
// the hopgrid binary.
var coreModules = []registry.Module{
	&flow.Module{},
	&nested.Module{},
	&set_variables.Module{},
	&env_vars.Module{},
	&abort.Module{},
	&write_to_log.Module{},
	&wait_for_file.Module{},
	&generate_rows.Module{},
	&dummy.Module{},
	&add_constants.Module{},
	&filter_rows.Module{},
	&result_rows.Module{},
	&unique_rows.Module{},
	&string_operations.Module{},
	&web_service_available.Module{},
	&database.Module{},
	&pg_bulk_loader.Module{},
	&socketio_output.Module{},
	&s3_put_files.Module{},
}
