package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/hopgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// listFlag collects every occurrence of a repeatable flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("hopgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
hopgrid - runs ETL jobs and transformations built from steps and hops.

Usage:
  hopgrid [options] -job NAME [PATH...]
  hopgrid [options] -trans NAME [PATH...]

Arguments:
  PATH
    A .hcl/.yaml/.yml file or a directory containing definitions.

Options:
`)
		flagSet.PrintDefaults()
	}

	var files, params listFlag
	flagSet.Var(&files, "file", "Definition file or directory (repeatable).")
	flagSet.Var(&files, "f", "Definition file or directory (shorthand, repeatable).")
	flagSet.Var(&params, "param", "Process variable as KEY=VALUE (repeatable).")
	jobFlag := flagSet.String("job", "", "Name of the job to run.")
	transFlag := flagSet.String("trans", "", "Name of the transformation to run.")
	rowsetFlag := flagSet.Int("rowset-size", 0, "Default RowSet capacity. 0 uses the built-in default.")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	paths := append([]string(nil), files...)
	paths = append(paths, flagSet.Args()...)
	slog.Debug("Definition paths determined.", "paths", paths)

	if len(paths) == 0 && *jobFlag == "" && *transFlag == "" {
		slog.Debug("Nothing to run, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	if _, err := app.ParseLevel(logLevel); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	paramMap := make(map[string]string, len(params))
	for _, p := range params {
		k, v, err := app.ParseParam(p)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		paramMap[k] = v
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		Paths:      paths,
		Job:        *jobFlag,
		Trans:      *transFlag,
		Params:     paramMap,
		RowSetSize: *rowsetFlag,
		LogFormat:  logFormat,
		LogLevel:   logLevel,
		StatusPort: *statusPortFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
