package schema

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"db-snap/internal/dialect"

	"github.com/rs/zerolog"
)

var definerPattern = regexp.MustCompile("DEFINER=`[^`]+`@`[^`]+`\\s+")

// StripDefiner removes every DEFINER=`user`@`host` clause from def.
func StripDefiner(def string) string {
	return definerPattern.ReplaceAllString(def, "")
}

// Serializer fetches native CREATE definitions.
type Serializer struct {
	db  *sql.DB
	d   dialect.Dialect
	log zerolog.Logger
}

func NewSerializer(db *sql.DB, d dialect.Dialect, log zerolog.Logger) *Serializer {
	return &Serializer{db: db, d: d, log: log}
}

// fallbackColumn is the SHOW CREATE column index used when the result set
// does not carry the expected column name.
func fallbackColumn(k Kind) int {
	switch k {
	case KindTable, KindView:
		return 1
	case KindEvent:
		return 3
	default:
		return 2
	}
}

// Structure returns the definition of the named object. Tables are returned
// verbatim; every other kind has its DEFINER clause removed. Any failure is
// logged and reported as absent.
func (s *Serializer) Structure(ctx context.Context, k Kind, name string) (string, bool) {
	def, err := s.fetch(ctx, k, name)
	if err != nil {
		s.log.Error().Err(err).Str("kind", k.Keyword()).Str("name", name).Msg("failed to read definition")
		return "", false
	}
	if k != KindTable {
		def = StripDefiner(def)
	}
	return def, true
}

func (s *Serializer) fetch(ctx context.Context, k Kind, name string) (string, error) {
	rows, err := s.db.QueryContext(ctx, s.d.ShowCreateQuery(k.Keyword(), name))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	idx := fallbackColumn(k)
	want := s.d.DefinitionColumn(k.Keyword())
	for i, c := range cols {
		if strings.EqualFold(c, want) {
			idx = i
			break
		}
	}
	if idx >= len(cols) {
		return "", fmt.Errorf("unexpected SHOW CREATE result with %d columns", len(cols))
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no definition returned")
	}

	values := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return "", err
	}

	// NULL here usually means the account lacks privileges on the body
	if !values[idx].Valid || values[idx].String == "" {
		return "", fmt.Errorf("definition is empty (insufficient privileges?)")
	}
	return values[idx].String, nil
}

// RenameTable rewrites the table identifier that leads a CREATE TABLE
// definition. Only that identifier is touched, so the old name may safely
// recur in comments, defaults or constraint names.
func RenameTable(def, from, to string) (string, error) {
	i := skipSpace(def, 0)

	var ok bool
	if i, ok = matchKeyword(def, i, "CREATE"); !ok {
		return "", fmt.Errorf("definition does not start with CREATE")
	}
	i = skipSpace(def, i)
	if j, ok := matchKeyword(def, i, "TEMPORARY"); ok {
		i = skipSpace(def, j)
	}
	if i, ok = matchKeyword(def, i, "TABLE"); !ok {
		return "", fmt.Errorf("definition is not a CREATE TABLE")
	}
	i = skipSpace(def, i)
	if j, ok := matchKeyword(def, i, "IF"); ok {
		for _, kw := range []string{"NOT", "EXISTS"} {
			if j, ok = matchKeyword(def, skipSpace(def, j), kw); !ok {
				return "", fmt.Errorf("malformed IF NOT EXISTS clause")
			}
		}
		i = skipSpace(def, j)
	}

	start := i
	name, end, err := readIdent(def, start)
	if err != nil {
		return "", err
	}
	// schema-qualified name: the table is the second part
	if dot := skipSpace(def, end); dot < len(def) && def[dot] == '.' {
		start = skipSpace(def, dot+1)
		if name, end, err = readIdent(def, start); err != nil {
			return "", err
		}
	}

	if name != from {
		return "", fmt.Errorf("definition creates %q, expected %q", name, from)
	}

	return def[:start] + dialect.QuoteBacktick(to) + def[end:], nil
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func matchKeyword(s string, i int, kw string) (int, bool) {
	end := i + len(kw)
	if end > len(s) || !strings.EqualFold(s[i:end], kw) {
		return i, false
	}
	if end < len(s) && isIdentByte(s[end]) {
		return i, false
	}
	return end, true
}

// readIdent reads a bare or backtick-quoted identifier starting at i and
// returns its unquoted name and the offset just past it.
func readIdent(s string, i int) (string, int, error) {
	if i >= len(s) {
		return "", i, fmt.Errorf("missing table identifier")
	}

	if s[i] != '`' {
		j := i
		for j < len(s) && isIdentByte(s[j]) {
			j++
		}
		if j == i {
			return "", i, fmt.Errorf("missing table identifier at offset %d", i)
		}
		return s[i:j], j, nil
	}

	var b strings.Builder
	for j := i + 1; j < len(s); j++ {
		if s[j] != '`' {
			b.WriteByte(s[j])
			continue
		}
		if j+1 < len(s) && s[j+1] == '`' {
			b.WriteByte('`')
			j++
			continue
		}
		return b.String(), j + 1, nil
	}
	return "", i, fmt.Errorf("unterminated quoted identifier")
}
