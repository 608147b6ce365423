package engine

import (
	"fmt"
	"io"
	"strings"

	"db-snap/internal/dialect"
)

// Section groups fragments by the part of the script they belong to.
type Section int

const (
	SectionHeader Section = iota
	SectionStructure
	SectionData
	SectionViews
	SectionProcedures
	SectionFunctions
	SectionTriggers
	SectionEvents
	SectionPrivileges
	SectionFooter
)

func (s Section) Title() string {
	switch s {
	case SectionHeader:
		return "Header"
	case SectionStructure:
		return "Table structure"
	case SectionData:
		return "Table data"
	case SectionViews:
		return "Views"
	case SectionProcedures:
		return "Stored procedures"
	case SectionFunctions:
		return "Functions"
	case SectionTriggers:
		return "Triggers"
	case SectionEvents:
		return "Events"
	case SectionPrivileges:
		return "Privileges"
	case SectionFooter:
		return "Footer"
	default:
		return "Unknown"
	}
}

type FragmentType int

const (
	FragmentComment FragmentType = iota
	FragmentStatement
	// FragmentTransaction is a statement that opens or closes the replay
	// transaction. Executors that own their transaction skip it.
	FragmentTransaction
	FragmentBlank
	// FragmentDelimiter is a client-side DELIMITER directive.
	FragmentDelimiter
)

// Fragment is one line-level piece of a script.
type Fragment struct {
	Section    Section
	Type       FragmentType
	Text       string
	Terminator string
}

// Executable reports whether the fragment is a statement a server runs.
func (f Fragment) Executable() bool {
	return f.Type == FragmentStatement
}

// FragmentSink consumes fragments in script order.
type FragmentSink interface {
	Write(f Fragment) error
}

// SinkFunc adapts a function to FragmentSink.
type SinkFunc func(f Fragment) error

func (fn SinkFunc) Write(f Fragment) error {
	return fn(f)
}

// Script renders fragments as replayable SQL text.
type Script struct {
	w          io.Writer
	bytes      int64
	statements int
}

func NewScript(w io.Writer) *Script {
	return &Script{w: w}
}

func (s *Script) Write(f Fragment) error {
	var text string
	switch f.Type {
	case FragmentComment:
		var b strings.Builder
		for _, line := range strings.Split(f.Text, "\n") {
			if line == "" {
				b.WriteString("--\n")
				continue
			}
			b.WriteString("-- ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
		text = b.String()
	case FragmentStatement, FragmentTransaction:
		text = f.Text + f.Terminator + "\n"
		s.statements++
	case FragmentBlank:
		text = "\n"
	case FragmentDelimiter:
		text = f.Text + "\n"
	default:
		return fmt.Errorf("unknown fragment type %d", f.Type)
	}

	n, err := io.WriteString(s.w, text)
	s.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	return nil
}

// Bytes is the number of bytes rendered so far.
func (s *Script) Bytes() int64 {
	return s.bytes
}

// Statements counts rendered statements, transaction control included.
func (s *Script) Statements() int {
	return s.statements
}

const bannerRule = "----------------------------------------"

// sectionWriter builds fragments for one sink. The first sink error is
// sticky: later writes are dropped and return it again.
type sectionWriter struct {
	out     FragmentSink
	d       dialect.Dialect
	section Section
	err     error
}

func newSectionWriter(out FragmentSink, d dialect.Dialect) *sectionWriter {
	return &sectionWriter{out: out, d: d}
}

func (w *sectionWriter) write(f Fragment) error {
	if w.err != nil {
		return w.err
	}
	f.Section = w.section
	w.err = w.out.Write(f)
	return w.err
}

func (w *sectionWriter) enter(s Section) {
	w.section = s
}

func (w *sectionWriter) banner() error {
	w.write(Fragment{Type: FragmentComment, Text: bannerRule + "\n" + w.section.Title() + "\n" + bannerRule})
	return w.blank()
}

func (w *sectionWriter) comment(format string, args ...interface{}) error {
	return w.write(Fragment{Type: FragmentComment, Text: fmt.Sprintf(format, args...)})
}

func (w *sectionWriter) blank() error {
	return w.write(Fragment{Type: FragmentBlank})
}

func (w *sectionWriter) statement(text string) error {
	return w.write(Fragment{Type: FragmentStatement, Text: text, Terminator: ";"})
}

func (w *sectionWriter) statements(stmts []string) error {
	for _, s := range stmts {
		w.statement(s)
	}
	return w.err
}

func (w *sectionWriter) transaction(stmts []string) error {
	for _, s := range stmts {
		w.write(Fragment{Type: FragmentTransaction, Text: s, Terminator: ";"})
	}
	return w.err
}

// routine writes a statement terminated by the routine delimiter.
func (w *sectionWriter) routine(text string) error {
	return w.write(Fragment{Type: FragmentStatement, Text: text, Terminator: w.d.RoutineDelimiter()})
}

func (w *sectionWriter) delimiter(delim string) error {
	return w.write(Fragment{Type: FragmentDelimiter, Text: w.d.DelimiterStatement(delim)})
}
