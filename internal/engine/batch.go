package engine

import (
	"fmt"
	"strings"

	"db-snap/internal/dialect"
	"db-snap/internal/encode"
	"db-snap/internal/schema"
)

// DefaultBatchSize is the number of rows per INSERT statement.
const DefaultBatchSize = 1000

// BatchWriter turns a row stream into multi-row INSERT statements.
type BatchWriter struct {
	d    dialect.Dialect
	size int
}

func NewBatchWriter(d dialect.Dialect, size int) *BatchWriter {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchWriter{d: d, size: size}
}

func (w *BatchWriter) Size() int {
	return w.size
}

// EmitInserts reads rows of table and hands one INSERT INTO dest statement
// per batch to emit, without a terminator. It returns the number of rows
// handed to emit. An empty stream emits nothing.
func (w *BatchWriter) EmitInserts(table, dest string, columns []schema.Column, rows RowStream,
	emit func(stmt string, rows int) error) (int64, error) {

	prefix := w.d.InsertPrefix(dest, schema.ColumnNames(columns))

	var (
		b       strings.Builder
		pending int
		total   int64
	)
	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := emit(b.String(), pending); err != nil {
			return err
		}
		total += int64(pending)
		pending = 0
		b.Reset()
		return nil
	}

	for rows.Next() {
		values := rows.Values()
		if len(values) != len(columns) {
			return total, fmt.Errorf("row of %s has %d values, expected %d", table, len(values), len(columns))
		}

		if pending == 0 {
			b.WriteString(prefix)
			b.WriteByte('\n')
		} else {
			b.WriteString(",\n")
		}
		b.WriteByte('(')
		for i, v := range values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(encode.Encode(v))
		}
		b.WriteByte(')')
		pending++

		if pending == w.size {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, fmt.Errorf("failed to read rows of %s: %w", table, err)
	}

	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
