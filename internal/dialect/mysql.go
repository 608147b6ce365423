package dialect

import (
	"fmt"
)

type MysqlDialect struct{}

func (d *MysqlDialect) TablesQuery() string {
	return `SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`
}

func (d *MysqlDialect) ViewsQuery() string {
	return `SELECT TABLE_NAME FROM information_schema.VIEWS WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME`
}

func (d *MysqlDialect) ProceduresQuery() string {
	return `SELECT ROUTINE_NAME FROM information_schema.ROUTINES WHERE ROUTINE_SCHEMA = ? AND ROUTINE_TYPE = 'PROCEDURE' ORDER BY ROUTINE_NAME`
}

func (d *MysqlDialect) FunctionsQuery() string {
	return `SELECT ROUTINE_NAME FROM information_schema.ROUTINES WHERE ROUTINE_SCHEMA = ? AND ROUTINE_TYPE = 'FUNCTION' ORDER BY ROUTINE_NAME`
}

func (d *MysqlDialect) TriggersQuery() string {
	return `SELECT TRIGGER_NAME FROM information_schema.TRIGGERS WHERE TRIGGER_SCHEMA = ? ORDER BY TRIGGER_NAME`
}

func (d *MysqlDialect) EventsQuery() string {
	return `SELECT EVENT_NAME FROM information_schema.EVENTS WHERE EVENT_SCHEMA = ? ORDER BY EVENT_NAME`
}

func (d *MysqlDialect) ColumnsQuery() string {
	return `SELECT COLUMN_NAME, ORDINAL_POSITION, IS_NULLABLE, DATA_TYPE, COLUMN_TYPE, COLUMN_DEFAULT, CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`
}

func (d *MysqlDialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND TABLE_TYPE = 'BASE TABLE'`
}

func (d *MysqlDialect) GranteesQuery() string {
	return `SELECT DISTINCT GRANTEE FROM information_schema.SCHEMA_PRIVILEGES WHERE TABLE_SCHEMA = ? ORDER BY GRANTEE`
}

func (d *MysqlDialect) VersionQuery() string {
	return `SELECT VERSION()`
}

func (d *MysqlDialect) ShowCreateQuery(keyword, name string) string {
	return fmt.Sprintf("SHOW CREATE %s %s", keyword, d.QuoteIdent(name))
}

// DefinitionColumn names the SHOW CREATE result column holding the definition.
func (d *MysqlDialect) DefinitionColumn(keyword string) string {
	switch keyword {
	case "TABLE":
		return "Create Table"
	case "VIEW":
		return "Create View"
	case "PROCEDURE":
		return "Create Procedure"
	case "FUNCTION":
		return "Create Function"
	case "TRIGGER":
		return "SQL Original Statement"
	case "EVENT":
		return "Create Event"
	default:
		return ""
	}
}

// ShowGrantsQuery expects the grantee as reported by information_schema ('user'@'host').
func (d *MysqlDialect) ShowGrantsQuery(grantee string) string {
	return "SHOW GRANTS FOR " + grantee
}

func (d *MysqlDialect) QuoteIdent(name string) string {
	return QuoteBacktick(name)
}

func (d *MysqlDialect) DropQuery(keyword, name string) string {
	return fmt.Sprintf("DROP %s IF EXISTS %s", keyword, d.QuoteIdent(name))
}

func (d *MysqlDialect) SelectQuery(table string, cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s", JoinQuoted(cols, d.QuoteIdent), d.QuoteIdent(table))
}

func (d *MysqlDialect) InsertPrefix(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES", d.QuoteIdent(table), JoinQuoted(cols, d.QuoteIdent))
}

// Preamble disables foreign key enforcement so tables load in any order.
func (d *MysqlDialect) Preamble() []string {
	return []string{
		"SET FOREIGN_KEY_CHECKS=0",
		"SET SQL_MODE='NO_AUTO_VALUE_ON_ZERO'",
	}
}

// BeginTransaction takes manual control of the replay transaction.
func (d *MysqlDialect) BeginTransaction() []string {
	return []string{"SET AUTOCOMMIT=0", "START TRANSACTION"}
}

func (d *MysqlDialect) CommitTransaction() []string {
	return []string{"COMMIT"}
}

func (d *MysqlDialect) Postamble() []string {
	return []string{"SET FOREIGN_KEY_CHECKS=1"}
}

func (d *MysqlDialect) RoutineDelimiter() string {
	return "$$"
}

func (d *MysqlDialect) DelimiterStatement(delim string) string {
	return "DELIMITER " + delim
}

func (d *MysqlDialect) SavepointQuery(name string) string {
	return "SAVEPOINT " + d.QuoteIdent(name)
}

func (d *MysqlDialect) ReleaseSavepointQuery(name string) string {
	return "RELEASE SAVEPOINT " + d.QuoteIdent(name)
}

func (d *MysqlDialect) RollbackToSavepointQuery(name string) string {
	return "ROLLBACK TO SAVEPOINT " + d.QuoteIdent(name)
}
