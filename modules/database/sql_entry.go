package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/result"
)

// SQLEntry executes a script of statements. Options: driver, dsn, sql,
// split (run statements separated by ";" one by one, default true).
type SQLEntry struct {
	env    jobentry.Env
	opts   config.Options
	script string
	split  bool
}

func newSQLEntry(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	script, err := opts.Required("sql")
	if err != nil {
		return nil, err
	}
	return &SQLEntry{env: env, opts: opts, script: script, split: opts.Bool("split", true)}, nil
}

// statements splits a script on semicolons, dropping empty statements.
func statements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e *SQLEntry) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	scope := e.env.Scope()
	conn, err := parseConnection(e.opts, scope)
	if err != nil {
		return nil, err
	}
	db, err := conn.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	script := scope.Expand(e.script)
	stmts := []string{script}
	if e.split {
		stmts = statements(script)
	}
	for i, stmt := range stmts {
		res, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			prev.Lines.Updated += n
		}
	}
	e.env.Logger().Info("SQL script executed.", "statements", len(stmts), "driver", conn.driver)
	prev.Success = true
	return prev, nil
}
