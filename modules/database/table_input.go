package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
)

// TableInput runs a query and emits one row per result row. Options:
// driver, dsn, sql (variables are expanded) and limit (0 for all rows).
type TableInput struct {
	conn  connection
	query string
	limit int64

	db   *sql.DB
	rows *sql.Rows
	meta *row.Meta
	read int64
}

func (s *TableInput) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	var err error
	if s.conn, err = parseConnection(opts, sc.Scope()); err != nil {
		return err
	}
	if s.query, err = opts.Required("sql"); err != nil {
		return err
	}
	s.query = sc.Expand(s.query)
	s.limit = opts.Int64("limit", 0)
	if s.db, err = s.conn.open(ctx); err != nil {
		return err
	}
	sc.Logger().Debug("Connected to database.", "driver", s.conn.driver)
	return nil
}

// BindSchema runs the query; the meta follows the result columns.
func (s *TableInput) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	sc.Logger().Debug("Running query.", "sql", s.query)
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	s.rows = rows
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	s.meta = columnMeta(cols)
	return s.meta, nil
}

func (s *TableInput) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	if s.limit > 0 && s.read >= s.limit {
		return false, nil
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return false, fmt.Errorf("read rows: %w", err)
		}
		return false, nil
	}
	raw := make([]any, s.meta.Size())
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return false, fmt.Errorf("scan row: %w", err)
	}
	out := make(row.Row, len(raw))
	for i, v := range raw {
		converted, err := fromDB(s.meta.Field(i), v)
		if err != nil {
			return false, err
		}
		out[i] = converted
	}
	s.read++
	sc.IncLinesInput()
	return true, sc.PutRow(ctx, nil, out)
}

func (s *TableInput) Dispose(ctx context.Context, sc *step.Context) error {
	if s.rows != nil {
		s.rows.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
