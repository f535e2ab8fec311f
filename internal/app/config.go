package app

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Paths []string // definition files or directories (.hcl, .yaml, .yml)

	Job   string // job to run
	Trans string // transformation to run when no job is given

	// Params are set in the process scope before anything runs.
	Params     map[string]string
	RowSetSize int

	LogFormat  string
	LogLevel   string
	StatusPort int
}

func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("at least one definition path is required")
	}
	if (cfg.Job == "") == (cfg.Trans == "") {
		return nil, errors.New("exactly one of job or transformation must be selected")
	}
	if cfg.RowSetSize < 0 {
		return nil, fmt.Errorf("rowset size must not be negative, got %d", cfg.RowSetSize)
	}
	if cfg.StatusPort < 0 || cfg.StatusPort > 65535 {
		return nil, fmt.Errorf("invalid status port %d", cfg.StatusPort)
	}
	return &cfg, nil
}

// ParseParam splits a KEY=VALUE command line parameter.
func ParseParam(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid parameter %q: expected KEY=VALUE", s)
	}
	return key, value, nil
}
