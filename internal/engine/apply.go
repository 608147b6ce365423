package engine

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
)

// txSink executes statement fragments inside one destination transaction.
// Transaction control, delimiters and comments are not sent to the server.
type txSink struct {
	ctx     context.Context
	tx      *sql.Tx
	log     zerolog.Logger
	applied int
	// ddl counts applied structure statements.
	ddl int
}

func (s *txSink) Write(f Fragment) error {
	if !f.Executable() {
		return nil
	}
	if _, err := s.tx.ExecContext(s.ctx, f.Text); err != nil {
		return &StatementError{Statement: f.Text, Err: err}
	}
	s.applied++
	if f.Section == SectionStructure {
		s.ddl++
	}
	s.log.Trace().Int("applied", s.applied).Msg("statement applied")
	return nil
}

// skipSection drops executable fragments of one section.
type skipSection struct {
	next    FragmentSink
	section Section
}

func (s *skipSection) Write(f Fragment) error {
	if f.Section == s.section && f.Executable() {
		return nil
	}
	return s.next.Write(f)
}

// branch is one destination of a fanout together with its first failure.
type branch struct {
	sink FragmentSink
	err  error
}

// fanout copies every fragment to each branch. A failing branch stops
// receiving fragments without affecting the others; Write fails only once
// every branch has failed.
type fanout struct {
	branches []*branch
}

func (f *fanout) add(sink FragmentSink) *branch {
	b := &branch{sink: sink}
	f.branches = append(f.branches, b)
	return b
}

func (f *fanout) Write(fr Fragment) error {
	var last error
	alive := false
	for _, b := range f.branches {
		if b.err != nil {
			last = b.err
			continue
		}
		if err := b.sink.Write(fr); err != nil {
			b.err = err
			last = err
			continue
		}
		alive = true
	}
	if !alive {
		return last
	}
	return nil
}
