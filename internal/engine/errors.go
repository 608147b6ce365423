package engine

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"db-snap/internal/schema"
)

var (
	ErrSourceTableNotFound = errors.New("source table not found (views cannot be transferred)")
	ErrDestinationConflict = errors.New("destination table already exists")
	ErrSameTable           = errors.New("source and destination are the same table")
)

// ObjectError reports a schema object that could not be read.
type ObjectError struct {
	Kind schema.Kind
	Name string
	Err  error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", strings.ToLower(e.Kind.Keyword()), e.Name, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

const statementPrefixLen = 50

// StatementError reports a statement the destination rejected.
type StatementError struct {
	Statement string
	Err       error
}

// Prefix returns the leading characters of the statement, enough to
// identify it in a log line.
func (e *StatementError) Prefix() string {
	s := strings.Join(strings.Fields(e.Statement), " ")
	if utf8.RuneCountInString(s) <= statementPrefixLen {
		return s
	}
	return string([]rune(s)[:statementPrefixLen]) + "..."
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement failed [%s]: %v", e.Prefix(), e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// PartialApplyError reports a failed transfer whose DROP/CREATE had already
// run on the destination. MySQL commits DDL implicitly, so only the data
// was rolled back.
type PartialApplyError struct {
	Table string
	Err   error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("%v (data rolled back, but %s was already dropped and recreated and is left empty)", e.Err, e.Table)
}

func (e *PartialApplyError) Unwrap() error {
	return e.Err
}
