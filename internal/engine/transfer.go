package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"db-snap/internal/dialect"
	"db-snap/internal/schema"

	"github.com/rs/zerolog"
)

// ConflictPolicy decides what a transfer does when the destination table
// already exists.
type ConflictPolicy int

const (
	// ConflictRecreate drops and recreates the destination table.
	ConflictRecreate ConflictPolicy = iota
	// ConflictDataOnly keeps the destination structure and only inserts.
	ConflictDataOnly
	// ConflictAbort applies nothing.
	ConflictAbort
)

func (p ConflictPolicy) String() string {
	switch p {
	case ConflictRecreate:
		return "recreate"
	case ConflictDataOnly:
		return "data-only"
	case ConflictAbort:
		return "abort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names printed by ConflictPolicy.String.
func ParsePolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recreate", "drop":
		return ConflictRecreate, nil
	case "data-only", "data", "append":
		return ConflictDataOnly, nil
	case "abort", "cancel":
		return ConflictAbort, nil
	default:
		return ConflictAbort, fmt.Errorf("unknown conflict policy %q (want recreate, data-only or abort)", s)
	}
}

type TransferOptions struct {
	SourceTable string
	// TargetTable defaults to SourceTable.
	TargetTable string
	// Execute applies the script to the destination connection.
	Execute bool
	// Output receives the full script when non-nil.
	Output FragmentSink
	// Resolve is consulted once when the destination table exists. A nil
	// Resolve aborts.
	Resolve   func(table string) (ConflictPolicy, error)
	BatchSize int
	// OnBatch is called after every INSERT batch with the rows in it.
	OnBatch func(rows int)
	// SourceEndpoint and TargetEndpoint identify the servers (host:port).
	// Equal endpoints with equal schemas and table names are rejected.
	SourceEndpoint string
	TargetEndpoint string
}

type TransferResult struct {
	SourceTable        string
	TargetTable        string
	DestinationExisted bool
	Policy             ConflictPolicy
	Rows               int64
	Executed           bool
	Applied            int
	// Streamed is set once the script was produced for every sink.
	Streamed bool
	// OutputErr is set when writing Output failed. The destination outcome
	// is independent of it.
	OutputErr error
	Elapsed   time.Duration
}

// Pipeline copies one table from a source to a destination connection.
type Pipeline struct {
	source     *sql.DB
	srcCatalog *schema.Catalog
	serializer *schema.Serializer
	dest       *sql.DB
	dstCatalog *schema.Catalog
	d          dialect.Dialect
	log        zerolog.Logger
}

// NewPipeline wires a transfer. dest may be nil when no transfer executes.
func NewPipeline(source *sql.DB, sourceSchema string, dest *sql.DB, destSchema string, d dialect.Dialect, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		source:     source,
		srcCatalog: schema.NewCatalog(source, d, sourceSchema, log),
		serializer: schema.NewSerializer(source, d, log),
		dest:       dest,
		d:          d,
		log:        log,
	}
	if dest != nil {
		p.dstCatalog = schema.NewCatalog(dest, d, destSchema, log)
	}
	return p
}

// Run transfers opts.SourceTable. The script is streamed to opts.Output
// unfiltered; when executing, the destination receives it inside a single
// transaction filtered by the conflict policy.
func (p *Pipeline) Run(ctx context.Context, opts TransferOptions) (*TransferResult, error) {
	start := time.Now()
	target := opts.TargetTable
	if target == "" {
		target = opts.SourceTable
	}
	res := &TransferResult{SourceTable: opts.SourceTable, TargetTable: target, Policy: ConflictRecreate}
	l := p.log.With().Str("source_table", opts.SourceTable).Str("target_table", target).Logger()

	if opts.Execute {
		if p.dest == nil {
			return res, errors.New("no destination connection to execute against")
		}
		if p.sameTable(opts, target) {
			return res, fmt.Errorf("%w: %s.%s", ErrSameTable, p.srcCatalog.Schema(), target)
		}
	}

	exists, err := p.srcCatalog.TableExists(ctx, opts.SourceTable)
	if err != nil {
		return res, err
	}
	if !exists {
		return res, fmt.Errorf("%w: %s.%s", ErrSourceTableNotFound, p.srcCatalog.Schema(), opts.SourceTable)
	}

	def, ok := p.serializer.Structure(ctx, schema.KindTable, opts.SourceTable)
	if !ok {
		return res, &ObjectError{Kind: schema.KindTable, Name: opts.SourceTable, Err: errors.New("definition unavailable")}
	}
	if target != opts.SourceTable {
		if def, err = schema.RenameTable(def, opts.SourceTable, target); err != nil {
			return res, &ObjectError{Kind: schema.KindTable, Name: opts.SourceTable, Err: err}
		}
	}

	cols, err := p.srcCatalog.Columns(ctx, opts.SourceTable)
	if err != nil {
		return res, err
	}
	if len(cols) == 0 {
		return res, &ObjectError{Kind: schema.KindTable, Name: opts.SourceTable, Err: errors.New("no columns found")}
	}

	if opts.Execute {
		res.DestinationExisted, err = p.dstCatalog.TableExists(ctx, target)
		if err != nil {
			return res, err
		}
		if res.DestinationExisted {
			res.Policy = ConflictAbort
			if opts.Resolve != nil {
				if res.Policy, err = opts.Resolve(target); err != nil {
					return res, err
				}
			}
			l.Info().Str("policy", res.Policy.String()).Msg("destination table exists")
		}
	}

	execute := opts.Execute && res.Policy != ConflictAbort
	if opts.Output != nil || execute {
		// the cursor is open before anything reaches the destination
		rows, err := OpenRows(ctx, p.source, p.d, opts.SourceTable, cols)
		if err != nil {
			return res, err
		}
		defer rows.Close()

		if err := p.send(ctx, l, opts, res, def, target, cols, rows, execute); err != nil {
			return res, err
		}
	}

	res.Elapsed = time.Since(start)
	if opts.Execute && res.Policy == ConflictAbort {
		return res, fmt.Errorf("%w: %s", ErrDestinationConflict, target)
	}
	if res.OutputErr != nil {
		return res, res.OutputErr
	}

	l.Info().Int64("rows", res.Rows).Bool("executed", res.Executed).Dur("elapsed", res.Elapsed).Msg("transfer finished")
	return res, nil
}

// send streams the script to the file sink and, when execute is set, to a
// destination transaction filtered by the policy.
func (p *Pipeline) send(ctx context.Context, l zerolog.Logger, opts TransferOptions, res *TransferResult, def, target string, cols []schema.Column, rows RowStream, execute bool) error {
	out := &fanout{}
	var fileBranch, execBranch *branch
	if opts.Output != nil {
		fileBranch = out.add(opts.Output)
	}

	var (
		tx   *sql.Tx
		exec *txSink
	)
	if execute {
		var err error
		tx, err = p.dest.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin destination transaction: %w", err)
		}
		defer func() {
			if tx != nil {
				tx.Rollback()
			}
		}()

		exec = &txSink{ctx: ctx, tx: tx, log: l}
		var sink FragmentSink = exec
		if res.Policy == ConflictDataOnly {
			sink = &skipSection{next: exec, section: SectionStructure}
		}
		execBranch = out.add(sink)
	}

	var streamErr error
	res.Rows, streamErr = p.stream(out, opts, def, target, cols, rows)
	res.Streamed = true
	if fileBranch != nil {
		res.OutputErr = fileBranch.err
		if res.OutputErr == nil {
			res.OutputErr = streamErr
		}
	}

	if execBranch != nil {
		err := execBranch.err
		if err == nil {
			err = streamErr
		}
		if err != nil {
			if exec.ddl > 0 {
				l.Error().Err(err).Msg("transfer data rolled back, structure change persisted")
				return &PartialApplyError{Table: target, Err: err}
			}
			l.Error().Err(err).Msg("transfer rolled back")
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit destination transaction: %w", err)
		}
		tx = nil
		res.Executed = true
		res.Applied = exec.applied
	}
	return nil
}

// sameTable reports whether executing would write into the table being read.
// One pool for both sides always shares the default schema.
func (p *Pipeline) sameTable(opts TransferOptions, target string) bool {
	if target != opts.SourceTable {
		return false
	}
	if p.source == p.dest {
		return true
	}
	return opts.SourceEndpoint != "" && opts.SourceEndpoint == opts.TargetEndpoint &&
		strings.EqualFold(p.srcCatalog.Schema(), p.dstCatalog.Schema())
}

// stream writes the transfer script: session setup, structure, data and
// footer. Sink failures are recorded per branch; a source read failure is
// returned.
func (p *Pipeline) stream(out FragmentSink, opts TransferOptions, def, target string, cols []schema.Column, rows RowStream) (int64, error) {
	w := newSectionWriter(out, p.d)

	w.enter(SectionHeader)
	w.comment("db-snap table transfer")
	w.comment("Source: %s.%s", p.srcCatalog.Schema(), opts.SourceTable)
	w.comment("Target: %s", target)
	w.comment("Exported at: %s", time.Now().Format("2006-01-02 15:04:05"))
	w.blank()
	w.statements(p.d.Preamble())
	w.transaction(p.d.BeginTransaction())
	w.blank()

	w.enter(SectionStructure)
	w.comment("Table: %s", target)
	w.statement(p.d.DropQuery(schema.KindTable.Keyword(), target))
	w.statement(def)
	w.blank()
	if w.err != nil {
		return 0, nil
	}

	w.enter(SectionData)
	batches := NewBatchWriter(p.d, opts.BatchSize)
	n, err := batches.EmitInserts(opts.SourceTable, target, cols, rows, func(stmt string, count int) error {
		if err := w.statement(stmt); err != nil {
			return err
		}
		if opts.OnBatch != nil {
			opts.OnBatch(count)
		}
		return nil
	})
	if w.err != nil {
		return n, nil
	}
	if err != nil {
		return n, err
	}
	w.blank()

	w.enter(SectionFooter)
	w.transaction(p.d.CommitTransaction())
	w.statements(p.d.Postamble())
	return n, nil
}
