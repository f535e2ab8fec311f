// Package pg_bulk_loader streams rows into a PostgreSQL table with COPY.
package pg_bulk_loader

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("pg_bulk_loader", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Loads rows into PostgreSQL using COPY.",
	})
}

// Step buffers rows and copies them in batches. Options: dsn, table
// (schema-qualified allowed), fields, columns, batch_size (default 5000),
// truncate.
type Step struct {
	dsn       string
	table     pgx.Identifier
	fields    []string
	columns   []string
	batchSize int
	truncate  bool

	pool  *pgxpool.Pool
	idx   []int
	batch [][]any
	total int64
}

// splitFQN converts "schema.table" into a pgx.Identifier.
func splitFQN(fqn string) pgx.Identifier {
	var id pgx.Identifier
	for _, p := range strings.Split(fqn, ".") {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	dsn, err := opts.Required("dsn")
	if err != nil {
		return err
	}
	table, err := opts.Required("table")
	if err != nil {
		return err
	}
	s.dsn = sc.Expand(dsn)
	s.table = splitFQN(sc.Expand(table))
	if len(s.table) == 0 {
		return fmt.Errorf("invalid table name %q", table)
	}
	s.fields = opts.Strings("fields")
	s.columns = opts.Strings("columns")
	if len(s.columns) > 0 && len(s.columns) != len(s.fields) {
		return fmt.Errorf("columns lists %d names but fields lists %d", len(s.columns), len(s.fields))
	}
	s.batchSize = opts.Int("batch_size", 5000)
	if s.batchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	s.truncate = opts.Bool("truncate", false)

	cfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("connect: %w", err)
	}
	s.pool = pool

	if s.truncate && sc.Copy() == 0 {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+s.table.Sanitize()); err != nil {
			return fmt.Errorf("truncate %s: %w", s.table.Sanitize(), err)
		}
	}
	return nil
}

// BindSchema resolves the copied fields against the input.
func (s *Step) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	idx, cols, err := resolve(in, s.fields, s.columns)
	if err != nil {
		return nil, err
	}
	s.idx, s.columns = idx, cols
	return in, nil
}

func resolve(in *row.Meta, fields, columns []string) ([]int, []string, error) {
	if len(fields) == 0 {
		fields = in.Names()
	}
	if len(columns) == 0 {
		columns = fields
	}
	idx := make([]int, len(fields))
	for i, name := range fields {
		if idx[i] = in.IndexOf(name); idx[i] < 0 {
			return nil, nil, fmt.Errorf("field %q not found in %s", name, in)
		}
	}
	return idx, columns, nil
}

// copyValue turns a row value into something pgx can encode.
func copyValue(v any) any {
	if f, ok := v.(*big.Float); ok {
		return f.Text('f', -1)
	}
	return v
}

func (s *Step) flush(ctx context.Context, sc *step.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx, s.table, s.columns, pgx.CopyFromRows(s.batch))
	if err != nil {
		return step.Fatal(fmt.Errorf("copy into %s: %w", s.table.Sanitize(), err))
	}
	s.total += n
	sc.Logger().Debug("Batch copied.", "rows", n, "total", s.total)
	s.batch = s.batch[:0]
	return nil
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, s.flush(ctx, sc)
	}
	vals := make([]any, len(s.idx))
	for i, idx := range s.idx {
		vals[i] = copyValue(r[idx])
	}
	s.batch = append(s.batch, vals)
	sc.IncLinesOutput()
	if len(s.batch) >= s.batchSize {
		if err := s.flush(ctx, sc); err != nil {
			return false, err
		}
	}
	return true, sc.PutRow(ctx, nil, r)
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error {
	if len(s.batch) > 0 {
		sc.Logger().Warn("Discarding rows that were never copied.", "rows", len(s.batch))
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
