package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"db-snap/internal/dialect"
	"db-snap/internal/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func nameRows(values ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"NAME"})
	for _, v := range values {
		rows.AddRow(v)
	}
	return rows
}

// columnRows builds an information_schema.COLUMNS result from name/type pairs.
func columnRows(pairs ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"COLUMN_NAME", "ORDINAL_POSITION", "IS_NULLABLE", "DATA_TYPE", "COLUMN_TYPE",
		"COLUMN_DEFAULT", "CHARACTER_MAXIMUM_LENGTH", "NUMERIC_PRECISION", "NUMERIC_SCALE",
	})
	for i := 0; i+1 < len(pairs); i += 2 {
		rows.AddRow(pairs[i], i/2+1, "YES", pairs[i+1], pairs[i+1], nil, nil, nil, nil)
	}
	return rows
}

type inventory struct {
	tables, views, procedures, functions, triggers, events []string
}

func expectInventory(mock sqlmock.Sqlmock, d dialect.Dialect, inv inventory) {
	mock.ExpectQuery(d.VersionQuery()).WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))
	mock.ExpectQuery(d.TablesQuery()).WithArgs("shop").WillReturnRows(nameRows(inv.tables...))
	mock.ExpectQuery(d.ViewsQuery()).WithArgs("shop").WillReturnRows(nameRows(inv.views...))
	mock.ExpectQuery(d.ProceduresQuery()).WithArgs("shop").WillReturnRows(nameRows(inv.procedures...))
	mock.ExpectQuery(d.FunctionsQuery()).WithArgs("shop").WillReturnRows(nameRows(inv.functions...))
	mock.ExpectQuery(d.TriggersQuery()).WithArgs("shop").WillReturnRows(nameRows(inv.triggers...))
	mock.ExpectQuery(d.EventsQuery()).WithArgs("shop").WillReturnRows(nameRows(inv.events...))
}

func expectShowCreate(mock sqlmock.Sqlmock, d dialect.Dialect, k schema.Kind, name, def string) {
	cols := []string{"Name", d.DefinitionColumn(k.Keyword())}
	if k.Routine() {
		cols = []string{"Name", "sql_mode", d.DefinitionColumn(k.Keyword())}
		mock.ExpectQuery(d.ShowCreateQuery(k.Keyword(), name)).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(name, "", def))
		return
	}
	mock.ExpectQuery(d.ShowCreateQuery(k.Keyword(), name)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(name, def))
}

func newTestAssembler(db *sql.DB, opts Options) *Assembler {
	a := NewAssembler(db, &dialect.MysqlDialect{}, "shop", opts, zerolog.Nop())
	a.now = func() time.Time { return fixedTime }
	return a
}

const employeesDDL = "CREATE TABLE `employees` (\n" +
	"  `id` int NOT NULL,\n" +
	"  `manager_id` int DEFAULT NULL,\n" +
	"  `name` varchar(50) DEFAULT NULL,\n" +
	"  PRIMARY KEY (`id`),\n" +
	"  CONSTRAINT `fk_manager` FOREIGN KEY (`manager_id`) REFERENCES `employees` (`id`)\n" +
	") ENGINE=InnoDB"

func TestExport_FullScript(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{
		tables:     []string{"employees"},
		views:      []string{"v_staff"},
		procedures: []string{"p_count"},
	})
	expectShowCreate(mock, d, schema.KindTable, "employees", employeesDDL)
	mock.ExpectQuery(d.ColumnsQuery()).WithArgs("shop", "employees").
		WillReturnRows(columnRows("id", "int", "manager_id", "int", "name", "varchar"))
	mock.ExpectQuery("SELECT `id`, `manager_id`, `name` FROM `employees`").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("id").OfType("INT", int64(0)),
			sqlmock.NewColumn("manager_id").OfType("INT", int64(0)),
			sqlmock.NewColumn("name").OfType("VARCHAR", ""),
		).AddRow(int64(1), nil, "Ann").AddRow(int64(2), int64(1), "Bob O'Neil"))
	expectShowCreate(mock, d, schema.KindView, "v_staff",
		"CREATE ALGORITHM=UNDEFINED DEFINER=`root`@`localhost` SQL SECURITY DEFINER VIEW `v_staff` AS select `employees`.`name` AS `name` from `employees`")
	expectShowCreate(mock, d, schema.KindProcedure, "p_count",
		"CREATE DEFINER=`root`@`localhost` PROCEDURE `p_count`()\nBEGIN\n  SELECT COUNT(*) FROM employees;\nEND")

	var buf bytes.Buffer
	a := newTestAssembler(db, Options{IncludeData: true})
	steps, progressed := 0, 0
	a.OnStart = func(n int) { steps = n }
	a.OnProgress = func() { progressed++ }

	report, err := a.Export(context.Background(), NewScript(&buf))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	require.NotContains(t, out, "DEFINER=")

	// checks stay disabled from before the CREATE until after the data
	fkOff := strings.Index(out, "SET FOREIGN_KEY_CHECKS=0;")
	create := strings.Index(out, "CREATE TABLE `employees`")
	insert := strings.Index(out, "INSERT INTO `employees`")
	commit := strings.Index(out, "\nCOMMIT;")
	fkOn := strings.Index(out, "SET FOREIGN_KEY_CHECKS=1;")
	require.True(t, fkOff >= 0 && fkOff < create && create < insert && insert < commit && commit < fkOn, out)
	require.Equal(t, 1, strings.Count(out, "SET FOREIGN_KEY_CHECKS=1;"))

	require.Contains(t, out, "SET SQL_MODE='NO_AUTO_VALUE_ON_ZERO';\nSET AUTOCOMMIT=0;\nSTART TRANSACTION;\n")
	require.Contains(t, out, "DROP TABLE IF EXISTS `employees`;\n"+employeesDDL+";\n")
	require.Contains(t, out, "SAVEPOINT `snap_data_1`;\n"+
		"INSERT INTO `employees` (`id`, `manager_id`, `name`) VALUES\n(1, NULL, 'Ann'),\n(2, 1, 'Bob O\\'Neil');\n"+
		"RELEASE SAVEPOINT `snap_data_1`;\n")
	require.Contains(t, out, "DROP VIEW IF EXISTS `v_staff`;\nCREATE ALGORITHM=UNDEFINED SQL SECURITY DEFINER VIEW `v_staff`")

	delimOn := strings.Index(out, "DELIMITER $$")
	proc := strings.Index(out, "DROP PROCEDURE IF EXISTS `p_count`$$\nCREATE PROCEDURE `p_count`()")
	delimOff := strings.Index(out, "DELIMITER ;")
	require.True(t, delimOn >= 0 && delimOn < proc && proc < delimOff, out)
	require.Contains(t, out, "END$$\n")

	// sections appear in emission order and empty kinds get no banner
	order := []string{"-- Table structure", "-- Table data", "-- Views", "-- Stored procedures"}
	last := -1
	for _, title := range order {
		idx := strings.Index(out, title)
		require.Greater(t, idx, last, title)
		last = idx
	}
	require.NotContains(t, out, "-- Functions")
	require.NotContains(t, out, "-- Triggers")
	require.NotContains(t, out, "-- Privileges")

	require.Contains(t, out, "-- Server version: 8.0.36")
	require.Contains(t, out, "-- Exported at: 2024-03-01 12:30:00")

	require.EqualValues(t, 2, report.Rows["employees"])
	require.Empty(t, report.Skipped)
	require.Empty(t, report.Incomplete)
	require.Equal(t, []string{"p_count"}, report.Exported[schema.KindProcedure])
	require.Equal(t, 4, steps)
	require.Equal(t, steps, progressed)
}

func TestExport_StructureOnly(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{tables: []string{"a", "b"}})
	expectShowCreate(mock, d, schema.KindTable, "a", "CREATE TABLE `a` (`id` int)")
	mock.ExpectQuery(d.ShowCreateQuery("TABLE", "b")).WillReturnError(errors.New("SHOW command denied"))

	var buf bytes.Buffer
	report, err := newTestAssembler(db, Options{}).Export(context.Background(), NewScript(&buf))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	require.NotContains(t, out, "INSERT")
	require.NotContains(t, out, "-- Table data")
	require.NotContains(t, out, "DROP TABLE IF EXISTS `b`")
	require.Equal(t, []schema.ObjectRef{{Kind: schema.KindTable, Name: "b"}}, report.Skipped)
	require.True(t, strings.HasSuffix(out, "-- Dump completed at 2024-03-01 12:30:00\n"))
}

func TestExport_EmptyTableHasNoStatements(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{tables: []string{"empty"}})
	expectShowCreate(mock, d, schema.KindTable, "empty", "CREATE TABLE `empty` (`id` int)")
	mock.ExpectQuery(d.ColumnsQuery()).WithArgs("shop", "empty").WillReturnRows(columnRows("id", "int"))
	mock.ExpectQuery("SELECT `id` FROM `empty`").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("INT", int64(0))))

	var buf bytes.Buffer
	report, err := newTestAssembler(db, Options{IncludeData: true}).Export(context.Background(), NewScript(&buf))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.NotContains(t, buf.String(), "INSERT")
	require.NotContains(t, buf.String(), "SAVEPOINT")
	require.Contains(t, report.Rows, "empty")
	require.Zero(t, report.Rows["empty"])
}

func TestExport_PartialDataRolledBack(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{tables: []string{"logs", "users"}})
	expectShowCreate(mock, d, schema.KindTable, "logs", "CREATE TABLE `logs` (`id` int)")
	expectShowCreate(mock, d, schema.KindTable, "users", "CREATE TABLE `users` (`id` int)")

	mock.ExpectQuery(d.ColumnsQuery()).WithArgs("shop", "logs").WillReturnRows(columnRows("id", "int"))
	mock.ExpectQuery("SELECT `id` FROM `logs`").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("INT", int64(0))).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)).
			RowError(2, errors.New("connection reset")))

	mock.ExpectQuery(d.ColumnsQuery()).WithArgs("shop", "users").WillReturnRows(columnRows("id", "int"))
	mock.ExpectQuery("SELECT `id` FROM `users`").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("INT", int64(0))).
			AddRow(int64(7)))

	var buf bytes.Buffer
	report, err := newTestAssembler(db, Options{IncludeData: true, BatchSize: 1}).Export(context.Background(), NewScript(&buf))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	require.Contains(t, out, "SAVEPOINT `snap_data_1`;\n"+
		"INSERT INTO `logs` (`id`) VALUES\n(1);\n"+
		"INSERT INTO `logs` (`id`) VALUES\n(2);\n"+
		"ROLLBACK TO SAVEPOINT `snap_data_1`;\n")
	require.NotContains(t, out, "RELEASE SAVEPOINT `snap_data_1`")
	require.Contains(t, out, "SAVEPOINT `snap_data_2`;\nINSERT INTO `users` (`id`) VALUES\n(7);\nRELEASE SAVEPOINT `snap_data_2`;\n")

	require.Equal(t, []string{"logs"}, report.Incomplete)
	require.NotContains(t, report.Rows, "logs")
	require.EqualValues(t, 1, report.Rows["users"])
}

func TestExport_Privileges(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{})
	mock.ExpectQuery(d.GranteesQuery()).WithArgs("shop").
		WillReturnRows(nameRows("'app'@'%'", "'ghost'@'localhost'"))
	mock.ExpectQuery(d.ShowGrantsQuery("'app'@'%'")).
		WillReturnRows(sqlmock.NewRows([]string{"Grants for app@%"}).
			AddRow("GRANT USAGE ON *.* TO `app`@`%`").
			AddRow("GRANT SELECT, INSERT ON `shop`.* TO `app`@`%`"))
	mock.ExpectQuery(d.ShowGrantsQuery("'ghost'@'localhost'")).
		WillReturnError(errors.New("There is no such grant defined"))

	var buf bytes.Buffer
	report, err := newTestAssembler(db, Options{IncludePrivileges: true}).Export(context.Background(), NewScript(&buf))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	require.Contains(t, out, "-- Privileges")
	require.Contains(t, out, "GRANT SELECT, INSERT ON `shop`.* TO `app`@`%`;\n")
	require.Less(t, strings.Index(out, "GRANT SELECT"), strings.Index(out, "\nCOMMIT;"))
	require.Equal(t, []string{"'app'@'%'"}, report.Grantees)
	require.Equal(t, []string{"'ghost'@'localhost'"}, report.SkippedGrantees)
}

func TestExport_FailedKindStillExports(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	mock.ExpectQuery(d.VersionQuery()).WillReturnError(errors.New("denied"))
	mock.ExpectQuery(d.TablesQuery()).WithArgs("shop").WillReturnRows(nameRows("t"))
	mock.ExpectQuery(d.ViewsQuery()).WithArgs("shop").WillReturnRows(nameRows())
	mock.ExpectQuery(d.ProceduresQuery()).WithArgs("shop").WillReturnError(errors.New("denied"))
	mock.ExpectQuery(d.FunctionsQuery()).WithArgs("shop").WillReturnRows(nameRows())
	mock.ExpectQuery(d.TriggersQuery()).WithArgs("shop").WillReturnRows(nameRows())
	mock.ExpectQuery(d.EventsQuery()).WithArgs("shop").WillReturnRows(nameRows())
	expectShowCreate(mock, d, schema.KindTable, "t", "CREATE TABLE `t` (`id` int)")

	var buf bytes.Buffer
	report, err := newTestAssembler(db, Options{}).Export(context.Background(), NewScript(&buf))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, "unknown", report.ServerVersion)
	require.Contains(t, report.Inventory.Failures, schema.KindProcedure)
	require.Contains(t, buf.String(), "CREATE TABLE `t` (`id` int);")
}

func TestExport_SinkFailureAborts(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{tables: []string{"t"}})

	sinkErr := errors.New("no space left on device")
	writes := 0
	sink := SinkFunc(func(Fragment) error {
		writes++
		if writes > 3 {
			return sinkErr
		}
		return nil
	})

	_, err := newTestAssembler(db, Options{IncludeData: true}).Export(context.Background(), sink)
	require.ErrorIs(t, err, sinkErr)
	require.Equal(t, 4, writes)
}

func TestExport_CancelledRunLeavesNoFooter(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{views: []string{"v1"}, procedures: []string{"p1"}})
	expectShowCreate(mock, d, schema.KindView, "v1", "CREATE VIEW `v1` AS select 1 AS `1`")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	a := newTestAssembler(db, Options{})
	a.OnProgress = cancel

	report, err := a.Export(ctx, NewScript(&buf))
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	require.Contains(t, out, "CREATE VIEW `v1`")
	require.NotContains(t, out, "\nCOMMIT;")
	require.NotContains(t, out, "SET FOREIGN_KEY_CHECKS=1;")
	require.NotContains(t, out, "Dump completed")
	require.Empty(t, report.Skipped)
}

func TestExport_CancelledBeforeStart(t *testing.T) {
	db, _ := newMockDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := newTestAssembler(db, Options{IncludeData: true}).Export(ctx, NewScript(&buf))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, buf.String())
}

func TestExport_SkippedTableCompletesProgress(t *testing.T) {
	db, mock := newMockDB(t)
	d := &dialect.MysqlDialect{}

	expectInventory(mock, d, inventory{tables: []string{"a", "b"}})
	expectShowCreate(mock, d, schema.KindTable, "a", "CREATE TABLE `a` (`id` int)")
	mock.ExpectQuery(d.ShowCreateQuery("TABLE", "b")).WillReturnError(errors.New("SHOW command denied"))
	mock.ExpectQuery(d.ColumnsQuery()).WithArgs("shop", "a").WillReturnRows(columnRows("id", "int"))
	mock.ExpectQuery("SELECT `id` FROM `a`").
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("INT", int64(0))))

	a := newTestAssembler(db, Options{IncludeData: true})
	steps, progressed := 0, 0
	a.OnStart = func(n int) { steps = n }
	a.OnProgress = func() { progressed++ }

	_, err := a.Export(context.Background(), NewScript(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, 4, steps)
	require.Equal(t, steps, progressed)
}
