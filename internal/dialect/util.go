package dialect

import (
	"strings"
)

// QuoteBacktick wraps an identifier in backticks, doubling embedded ones.
func QuoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// JoinQuoted quotes every column with quote and joins them with ", ".
func JoinQuoted(cols []string, quote func(string) string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}
