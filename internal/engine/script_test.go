package engine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"db-snap/internal/dialect"

	"github.com/stretchr/testify/require"
)

func TestScript_Render(t *testing.T) {
	var buf bytes.Buffer
	s := NewScript(&buf)

	frags := []Fragment{
		{Type: FragmentComment, Text: "first\n\nthird"},
		{Type: FragmentStatement, Text: "SET FOREIGN_KEY_CHECKS=0", Terminator: ";"},
		{Type: FragmentTransaction, Text: "START TRANSACTION", Terminator: ";"},
		{Type: FragmentBlank},
		{Type: FragmentDelimiter, Text: "DELIMITER $$"},
		{Type: FragmentStatement, Text: "CREATE PROCEDURE p() BEGIN SELECT 1; END", Terminator: "$$"},
	}
	for _, f := range frags {
		require.NoError(t, s.Write(f))
	}

	expected := "-- first\n--\n-- third\n" +
		"SET FOREIGN_KEY_CHECKS=0;\n" +
		"START TRANSACTION;\n" +
		"\n" +
		"DELIMITER $$\n" +
		"CREATE PROCEDURE p() BEGIN SELECT 1; END$$\n"
	require.Equal(t, expected, buf.String())
	require.EqualValues(t, len(expected), s.Bytes())
	require.Equal(t, 3, s.Statements())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestScript_WriteError(t *testing.T) {
	s := NewScript(failingWriter{})
	err := s.Write(Fragment{Type: FragmentBlank})
	require.ErrorContains(t, err, "broken pipe")
}

func TestSectionWriter_StickyError(t *testing.T) {
	calls := 0
	sink := SinkFunc(func(Fragment) error {
		calls++
		return errors.New("closed")
	})

	w := newSectionWriter(sink, &dialect.MysqlDialect{})
	require.Error(t, w.statement("SELECT 1"))
	require.Error(t, w.statement("SELECT 2"))
	require.Equal(t, 1, calls)
}

func TestSectionWriter_Banner(t *testing.T) {
	var buf bytes.Buffer
	w := newSectionWriter(NewScript(&buf), &dialect.MysqlDialect{})
	w.enter(SectionViews)
	require.NoError(t, w.banner())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{"-- " + bannerRule, "-- Views", "-- " + bannerRule}, lines)
}

func TestStatementError_Prefix(t *testing.T) {
	long := "INSERT INTO `users` (`id`, `name`)\nVALUES\n(1, 'a'), (2, 'b'), (3, 'c'), (4, 'd')"
	err := &StatementError{Statement: long, Err: errors.New("Duplicate entry")}

	require.Equal(t, "INSERT INTO `users` (`id`, `name`) VALUES (1, 'a')...", err.Prefix())
	require.Contains(t, err.Error(), "Duplicate entry")

	short := &StatementError{Statement: "SET FOREIGN_KEY_CHECKS=0"}
	require.Equal(t, "SET FOREIGN_KEY_CHECKS=0", short.Prefix())
}
