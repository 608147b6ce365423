package schema

import "database/sql"

// Kind is a category of schema-level object.
type Kind int

const (
	KindTable Kind = iota
	KindView
	KindProcedure
	KindFunction
	KindTrigger
	KindEvent
)

// Kinds lists every object kind in emission order.
var Kinds = []Kind{KindTable, KindView, KindProcedure, KindFunction, KindTrigger, KindEvent}

// Keyword is the SQL keyword naming the kind in SHOW CREATE / DROP.
func (k Kind) Keyword() string {
	switch k {
	case KindTable:
		return "TABLE"
	case KindView:
		return "VIEW"
	case KindProcedure:
		return "PROCEDURE"
	case KindFunction:
		return "FUNCTION"
	case KindTrigger:
		return "TRIGGER"
	case KindEvent:
		return "EVENT"
	default:
		return ""
	}
}

// Plural is the lower-case collection name used in reports and metadata.
func (k Kind) Plural() string {
	switch k {
	case KindTable:
		return "tables"
	case KindView:
		return "views"
	case KindProcedure:
		return "procedures"
	case KindFunction:
		return "functions"
	case KindTrigger:
		return "triggers"
	case KindEvent:
		return "events"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	return k.Plural()
}

// Routine reports whether bodies of this kind may contain ';' and need
// delimiter framing.
func (k Kind) Routine() bool {
	return k == KindProcedure || k == KindFunction || k == KindTrigger || k == KindEvent
}

type ObjectRef struct {
	Kind Kind
	Name string
}

type Column struct {
	Name       string
	Position   int
	IsNullable bool
	DataType   string
	ColumnType string
	Default    sql.NullString
	CharLength sql.NullInt64
	Precision  sql.NullInt64
	Scale      sql.NullInt64
}

// ColumnNames returns the names of cols in their given order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Inventory is the result of discovering every object kind in one schema.
type Inventory struct {
	Schema   string
	Objects  map[Kind][]string
	Failures map[Kind]error
}

// Names returns the discovered names of kind, possibly empty.
func (inv *Inventory) Names(k Kind) []string {
	return inv.Objects[k]
}

// Total counts every discovered object.
func (inv *Inventory) Total() int {
	total := 0
	for _, names := range inv.Objects {
		total += len(names)
	}
	return total
}
