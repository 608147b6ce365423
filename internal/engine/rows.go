package engine

import (
	"context"
	"database/sql"
	"fmt"

	"db-snap/internal/dialect"
	"db-snap/internal/encode"
	"db-snap/internal/schema"
)

// RowStream is a lazy cursor over encoded rows. Values is only valid until
// the next call to Next.
type RowStream interface {
	Next() bool
	Values() []encode.Value
	Err() error
	Close() error
}

type sqlRowStream struct {
	rows   *sql.Rows
	types  []string
	cells  []interface{}
	ptrs   []interface{}
	values []encode.Value
	err    error
}

// OpenRows streams every row of table, selecting columns in the given order.
func OpenRows(ctx context.Context, db *sql.DB, d dialect.Dialect, table string, columns []schema.Column) (RowStream, error) {
	query := d.SelectQuery(table, schema.ColumnNames(columns))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select rows from %s: %w", table, err)
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read column types of %s: %w", table, err)
	}

	s := &sqlRowStream{
		rows:   rows,
		types:  make([]string, len(colTypes)),
		cells:  make([]interface{}, len(colTypes)),
		ptrs:   make([]interface{}, len(colTypes)),
		values: make([]encode.Value, len(colTypes)),
	}
	for i, ct := range colTypes {
		s.types[i] = ct.DatabaseTypeName()
		s.ptrs[i] = &s.cells[i]
	}
	return s, nil
}

func (s *sqlRowStream) Next() bool {
	if s.err != nil || !s.rows.Next() {
		return false
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		s.err = fmt.Errorf("failed to scan row: %w", err)
		return false
	}
	for i, cell := range s.cells {
		s.values[i] = encode.FromDriver(cell, s.types[i])
	}
	return true
}

func (s *sqlRowStream) Values() []encode.Value {
	return s.values
}

func (s *sqlRowStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

func (s *sqlRowStream) Close() error {
	return s.rows.Close()
}

// SliceRows serves pre-built rows through the RowStream interface.
type SliceRows struct {
	rows [][]encode.Value
	pos  int
	err  error
}

// NewSliceRows returns a stream over rows that fails with err, if non-nil,
// once the rows are exhausted.
func NewSliceRows(rows [][]encode.Value, err error) *SliceRows {
	return &SliceRows{rows: rows, pos: -1, err: err}
}

func (s *SliceRows) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceRows) Values() []encode.Value {
	return s.rows[s.pos]
}

func (s *SliceRows) Err() error {
	if s.pos >= len(s.rows) {
		return s.err
	}
	return nil
}

func (s *SliceRows) Close() error {
	return nil
}
