package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
)

// InsertErrorCode tags rows the database refused.
const InsertErrorCode = "TABLEOUTPUT001"

// TableOutput inserts every row into a table and passes it on. Rows are
// committed every commit_size rows and once more at the end of the input.
// Options: driver, dsn, table, fields (input fields, all by default),
// columns (target columns, same as fields by default), commit_size,
// truncate.
type TableOutput struct {
	conn       connection
	table      string
	names      []string
	columns    []string
	commitSize int
	truncate   bool

	db      *sql.DB
	tx      *sql.Tx
	stmt    *sql.Stmt
	insert  string
	idx     []int
	pending int
}

func (s *TableOutput) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	var err error
	if s.conn, err = parseConnection(opts, sc.Scope()); err != nil {
		return err
	}
	if s.table, err = opts.Required("table"); err != nil {
		return err
	}
	s.table = sc.Expand(s.table)
	s.names = opts.Strings("fields")
	s.columns = opts.Strings("columns")
	if len(s.columns) > 0 && len(s.columns) != len(s.names) {
		return fmt.Errorf("columns lists %d names but fields lists %d", len(s.columns), len(s.names))
	}
	s.commitSize = opts.Int("commit_size", 1000)
	if s.commitSize < 1 {
		return fmt.Errorf("commit_size must be at least 1")
	}
	s.truncate = opts.Bool("truncate", false)
	if s.db, err = s.conn.open(ctx); err != nil {
		return err
	}
	if s.truncate && sc.Copy() == 0 {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+s.conn.quoteIdent(s.table)); err != nil {
			return fmt.Errorf("truncate %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *TableOutput) BindSchema(ctx context.Context, sc *step.Context, in *row.Meta) (*row.Meta, error) {
	if len(s.names) == 0 {
		s.names = in.Names()
	}
	if len(s.columns) == 0 {
		s.columns = s.names
	}
	cols := make([]string, len(s.names))
	marks := make([]string, len(s.names))
	for i, name := range s.names {
		idx := in.IndexOf(name)
		if idx < 0 {
			return nil, fmt.Errorf("field %q not found in %s", name, in)
		}
		s.idx = append(s.idx, idx)
		cols[i] = s.conn.quoteIdent(s.columns[i])
		marks[i] = s.conn.placeholder(i + 1)
	}
	s.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.conn.quoteIdent(s.table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	sc.Logger().Debug("Insert statement ready.", "sql", s.insert)
	return in, nil
}

func (s *TableOutput) begin(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return errors.Join(fmt.Errorf("prepare: %w", err), tx.Rollback())
	}
	s.tx, s.stmt = tx, stmt
	return nil
}

func (s *TableOutput) commit() error {
	if s.tx == nil {
		return nil
	}
	s.stmt.Close()
	err := s.tx.Commit()
	s.tx, s.stmt, s.pending = nil, nil, 0
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *TableOutput) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, step.Fatal(s.commit())
	}
	if s.tx == nil {
		if err := s.begin(ctx); err != nil {
			return false, step.Fatal(err)
		}
	}
	args := make([]any, len(s.idx))
	for i, idx := range s.idx {
		args[i] = toDB(r[idx])
	}
	if _, err := s.stmt.ExecContext(ctx, args...); err != nil {
		return true, step.NewRowError(InsertErrorCode, "", fmt.Errorf("insert into %s: %w", s.table, err))
	}
	sc.IncLinesOutput()
	s.pending++
	if s.pending >= s.commitSize {
		if err := s.commit(); err != nil {
			return false, step.Fatal(err)
		}
	}
	return true, sc.PutRow(ctx, nil, r)
}

// Dispose rolls back rows that were not committed by a normal end of input.
func (s *TableOutput) Dispose(ctx context.Context, sc *step.Context) error {
	if s.tx != nil {
		sc.Logger().Warn("Rolling back uncommitted rows.", "rows", s.pending)
		s.stmt.Close()
		if err := s.tx.Rollback(); err != nil {
			sc.Logger().Warn("Rollback of uncommitted rows failed.", "error", err)
		}
		s.tx, s.stmt, s.pending = nil, nil, 0
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
