package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"db-snap/internal/dialect"
	"db-snap/internal/schema"

	"github.com/rs/zerolog"
)

type Options struct {
	IncludeData       bool
	IncludePrivileges bool
	BatchSize         int
}

// Report summarises one export run.
type Report struct {
	Database      string
	ServerVersion string
	StartedAt     time.Time
	FinishedAt    time.Time
	Inventory     *schema.Inventory
	// Exported lists, per kind, the objects whose definition was written.
	Exported        map[schema.Kind][]string
	Skipped         []schema.ObjectRef
	Rows            map[string]int64
	Incomplete      []string
	Grantees        []string
	SkippedGrantees []string
}

func newReport(database string) *Report {
	return &Report{
		Database: database,
		Exported: make(map[schema.Kind][]string),
		Rows:     make(map[string]int64),
	}
}

// TotalRows sums the rows written across all tables.
func (r *Report) TotalRows() int64 {
	var total int64
	for _, n := range r.Rows {
		total += n
	}
	return total
}

func (r *Report) skip(k schema.Kind, name string) {
	r.Skipped = append(r.Skipped, schema.ObjectRef{Kind: k, Name: name})
}

// Assembler produces a whole-database script from a live source.
type Assembler struct {
	db         *sql.DB
	d          dialect.Dialect
	catalog    *schema.Catalog
	serializer *schema.Serializer
	batches    *BatchWriter
	opts       Options
	log        zerolog.Logger

	// OnStart receives the number of progress steps once discovery is done.
	OnStart func(steps int)
	// OnProgress is called after every structure, data, object and
	// privileges step.
	OnProgress func()

	now func() time.Time
}

func NewAssembler(db *sql.DB, d dialect.Dialect, schemaName string, opts Options, log zerolog.Logger) *Assembler {
	return &Assembler{
		db:         db,
		d:          d,
		catalog:    schema.NewCatalog(db, d, schemaName, log),
		serializer: schema.NewSerializer(db, d, log),
		batches:    NewBatchWriter(d, opts.BatchSize),
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

var routineSections = map[schema.Kind]Section{
	schema.KindProcedure: SectionProcedures,
	schema.KindFunction:  SectionFunctions,
	schema.KindTrigger:   SectionTriggers,
	schema.KindEvent:     SectionEvents,
}

// Export writes the complete script to out. Unreadable objects are logged
// and skipped; a failing sink or a cancelled ctx aborts the run before the
// footer is written.
func (a *Assembler) Export(ctx context.Context, out FragmentSink) (*Report, error) {
	report := newReport(a.catalog.Schema())
	report.StartedAt = a.now()
	report.ServerVersion = a.serverVersion(ctx)

	inv := a.catalog.All(ctx)
	report.Inventory = inv
	if err := ctx.Err(); err != nil {
		return report, err
	}
	for k, err := range inv.Failures {
		a.log.Warn().Err(err).Str("kind", k.Plural()).Msg("objects of this kind are missing from the export")
	}
	if a.OnStart != nil {
		a.OnStart(a.steps(inv))
	}

	w := newSectionWriter(out, a.d)

	if err := a.writeHeader(w, report); err != nil {
		return report, err
	}

	tables, err := a.writeStructure(ctx, w, inv.Names(schema.KindTable), report)
	if err != nil {
		return report, err
	}

	if a.opts.IncludeData {
		if err := a.writeData(ctx, w, tables, report); err != nil {
			return report, err
		}
	}

	if err := a.writeViews(ctx, w, inv.Names(schema.KindView), report); err != nil {
		return report, err
	}

	for _, k := range []schema.Kind{schema.KindProcedure, schema.KindFunction, schema.KindTrigger, schema.KindEvent} {
		if err := a.writeRoutines(ctx, w, k, inv.Names(k), report); err != nil {
			return report, err
		}
	}

	if a.opts.IncludePrivileges {
		if err := a.writePrivileges(ctx, w, report); err != nil {
			return report, err
		}
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.FinishedAt = a.now()
	if err := a.writeFooter(w, report); err != nil {
		return report, err
	}

	a.log.Info().
		Str("database", report.Database).
		Int("objects", inv.Total()).
		Int("skipped", len(report.Skipped)).
		Int64("rows", report.TotalRows()).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("export finished")

	return report, nil
}

// steps counts one tick per object, one per table data step and one for
// privileges. Tables whose structure is skipped tick their data step at
// once.
func (a *Assembler) steps(inv *schema.Inventory) int {
	n := inv.Total()
	if a.opts.IncludeData {
		n += len(inv.Names(schema.KindTable))
	}
	if a.opts.IncludePrivileges {
		n++
	}
	return n
}

func (a *Assembler) progress() {
	if a.OnProgress != nil {
		a.OnProgress()
	}
}

// skipped records an object whose definition could not be read. It returns
// the context error instead when the failure came from cancellation.
func (a *Assembler) skipped(ctx context.Context, report *Report, k schema.Kind, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	report.skip(k, name)
	a.progress()
	return nil
}

func (a *Assembler) serverVersion(ctx context.Context) string {
	var version string
	if err := a.db.QueryRowContext(ctx, a.d.VersionQuery()).Scan(&version); err != nil {
		a.log.Warn().Err(err).Msg("failed to read server version")
		return "unknown"
	}
	return version
}

func (a *Assembler) writeHeader(w *sectionWriter, report *Report) error {
	w.enter(SectionHeader)
	w.comment("db-snap SQL dump")
	w.comment("Database: %s", report.Database)
	w.comment("Server version: %s", report.ServerVersion)
	w.comment("Exported at: %s", report.StartedAt.Format("2006-01-02 15:04:05"))
	w.blank()
	w.statements(a.d.Preamble())
	w.transaction(a.d.BeginTransaction())
	return w.blank()
}

// writeStructure emits DROP/CREATE for every table and returns the tables
// whose definition was written.
func (a *Assembler) writeStructure(ctx context.Context, w *sectionWriter, tables []string, report *Report) ([]string, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	w.enter(SectionStructure)
	if err := w.banner(); err != nil {
		return nil, err
	}

	var written []string
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		def, ok := a.serializer.Structure(ctx, schema.KindTable, table)
		if !ok {
			if err := a.skipped(ctx, report, schema.KindTable, table); err != nil {
				return written, err
			}
			if a.opts.IncludeData {
				a.progress()
			}
			continue
		}

		w.comment("Table: %s", table)
		w.statement(a.d.DropQuery(schema.KindTable.Keyword(), table))
		w.statement(def)
		if err := w.blank(); err != nil {
			return written, err
		}

		written = append(written, table)
		report.Exported[schema.KindTable] = append(report.Exported[schema.KindTable], table)
		a.progress()
	}
	return written, nil
}

func (a *Assembler) writeData(ctx context.Context, w *sectionWriter, tables []string, report *Report) error {
	if len(tables) == 0 {
		return nil
	}

	w.enter(SectionData)
	if err := w.banner(); err != nil {
		return err
	}

	for i, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.writeTableData(ctx, w, i, table, report); err != nil {
			return err
		}
		a.progress()
	}
	return nil
}

// writeTableData streams one table inside its own savepoint. A read failure
// after the first batch rolls back to the savepoint so a replay keeps no
// partial data for the table. Only sink errors and cancellation are
// returned.
func (a *Assembler) writeTableData(ctx context.Context, w *sectionWriter, idx int, table string, report *Report) error {
	l := a.log.With().Str("table", table).Logger()

	cols, err := a.catalog.Columns(ctx, table)
	if err == nil && len(cols) == 0 {
		err = fmt.Errorf("no columns found")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.Error().Err(err).Msg("failed to read table columns, data skipped")
		report.Incomplete = append(report.Incomplete, table)
		return nil
	}

	rows, err := OpenRows(ctx, a.db, a.d, table, cols)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.Error().Err(err).Msg("failed to read table data, data skipped")
		report.Incomplete = append(report.Incomplete, table)
		return nil
	}
	defer rows.Close()

	savepoint := fmt.Sprintf("snap_data_%d", idx+1)
	started := false
	n, err := a.batches.EmitInserts(table, table, cols, rows, func(stmt string, count int) error {
		if !started {
			w.comment("Data for table: %s", table)
			w.statement(a.d.SavepointQuery(savepoint))
			started = true
		}
		l.Debug().Int("rows", count).Msg("batch written")
		return w.statement(stmt)
	})
	if w.err != nil {
		return w.err
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.Error().Err(err).Int64("rows_written", n).Msg("failed to read table data, table data discarded")
		report.Incomplete = append(report.Incomplete, table)
		if started {
			w.statement(a.d.RollbackToSavepointQuery(savepoint))
			return w.blank()
		}
		return nil
	}

	report.Rows[table] = n
	if started {
		w.statement(a.d.ReleaseSavepointQuery(savepoint))
		return w.blank()
	}
	return nil
}

func (a *Assembler) writeViews(ctx context.Context, w *sectionWriter, views []string, report *Report) error {
	if len(views) == 0 {
		return nil
	}

	w.enter(SectionViews)
	if err := w.banner(); err != nil {
		return err
	}

	for _, view := range views {
		if err := ctx.Err(); err != nil {
			return err
		}
		def, ok := a.serializer.Structure(ctx, schema.KindView, view)
		if !ok {
			if err := a.skipped(ctx, report, schema.KindView, view); err != nil {
				return err
			}
			continue
		}

		w.comment("View: %s", view)
		w.statement(a.d.DropQuery(schema.KindView.Keyword(), view))
		w.statement(def)
		if err := w.blank(); err != nil {
			return err
		}
		report.Exported[schema.KindView] = append(report.Exported[schema.KindView], view)
		a.progress()
	}
	return nil
}

// writeRoutines frames bodies that may contain ';' with the routine
// delimiter. The delimiter is only switched once a definition is at hand.
func (a *Assembler) writeRoutines(ctx context.Context, w *sectionWriter, k schema.Kind, names []string, report *Report) error {
	if len(names) == 0 {
		return nil
	}

	w.enter(routineSections[k])
	if err := w.banner(); err != nil {
		return err
	}

	framed := false
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		def, ok := a.serializer.Structure(ctx, k, name)
		if !ok {
			if err := a.skipped(ctx, report, k, name); err != nil {
				return err
			}
			continue
		}

		if !framed {
			w.delimiter(a.d.RoutineDelimiter())
			w.blank()
			framed = true
		}
		w.comment("%s: %s", k.Keyword(), name)
		w.routine(a.d.DropQuery(k.Keyword(), name))
		w.routine(def)
		if err := w.blank(); err != nil {
			return err
		}
		report.Exported[k] = append(report.Exported[k], name)
		a.progress()
	}

	if framed {
		w.delimiter(";")
		return w.blank()
	}
	return nil
}

func (a *Assembler) writeFooter(w *sectionWriter, report *Report) error {
	w.enter(SectionFooter)
	w.transaction(a.d.CommitTransaction())
	w.statements(a.d.Postamble())
	w.blank()
	return w.comment("Dump completed at %s", report.FinishedAt.Format("2006-01-02 15:04:05"))
}
