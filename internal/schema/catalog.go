package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"db-snap/internal/dialect"

	"github.com/rs/zerolog"
)

// Catalog reads object metadata for one schema from information_schema.
type Catalog struct {
	db     *sql.DB
	d      dialect.Dialect
	schema string
	log    zerolog.Logger
}

func NewCatalog(db *sql.DB, d dialect.Dialect, schemaName string, log zerolog.Logger) *Catalog {
	return &Catalog{db: db, d: d, schema: schemaName, log: log}
}

// Schema returns the schema the catalog is scoped to.
func (c *Catalog) Schema() string {
	return c.schema
}

func (c *Catalog) listQuery(k Kind) (string, error) {
	switch k {
	case KindTable:
		return c.d.TablesQuery(), nil
	case KindView:
		return c.d.ViewsQuery(), nil
	case KindProcedure:
		return c.d.ProceduresQuery(), nil
	case KindFunction:
		return c.d.FunctionsQuery(), nil
	case KindTrigger:
		return c.d.TriggersQuery(), nil
	case KindEvent:
		return c.d.EventsQuery(), nil
	default:
		return "", fmt.Errorf("unknown object kind %d", k)
	}
}

// Names returns the names of every object of kind k, sorted by name.
func (c *Catalog) Names(ctx context.Context, k Kind) ([]string, error) {
	query, err := c.listQuery(k)
	if err != nil {
		return nil, err
	}
	names, err := c.queryStrings(ctx, query, c.schema)
	if err != nil {
		return nil, err
	}
	// server collations may order case-insensitively; keep byte order stable
	sort.Strings(names)
	return names, nil
}

// All discovers every kind. A kind whose query fails is logged, recorded in
// Failures and left empty; discovery of the other kinds continues.
func (c *Catalog) All(ctx context.Context) *Inventory {
	inv := &Inventory{
		Schema:   c.schema,
		Objects:  make(map[Kind][]string, len(Kinds)),
		Failures: make(map[Kind]error),
	}

	for _, k := range Kinds {
		names, err := c.Names(ctx, k)
		if err != nil {
			c.log.Error().Err(err).Str("kind", k.Plural()).Str("schema", c.schema).Msg("failed to list objects")
			inv.Failures[k] = err
			names = []string{}
		}
		inv.Objects[k] = names
	}

	return inv
}

// Columns returns the columns of table ordered by ordinal position.
func (c *Catalog) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, c.d.ColumnsQuery(), c.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col        Column
			isNullable string
		)
		if err := rows.Scan(&col.Name, &col.Position, &isNullable, &col.DataType, &col.ColumnType,
			&col.Default, &col.CharLength, &col.Precision, &col.Scale); err != nil {
			return nil, fmt.Errorf("failed to scan column (table: %s): %w", table, err)
		}
		col.IsNullable = isNullable == "YES"
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}

	return cols, nil
}

// TableExists reports whether a base table or view named table exists.
func (c *Catalog) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, c.d.TableExistsQuery(), c.schema, table).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table existence for %s: %w", table, err)
	}
	return count > 0, nil
}

// Grantees lists accounts holding privileges on the schema, as 'user'@'host'.
func (c *Catalog) Grantees(ctx context.Context) ([]string, error) {
	return c.queryStrings(ctx, c.d.GranteesQuery(), c.schema)
}

func (c *Catalog) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.schema, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating names: %w", err)
	}

	return names, nil
}
