package dialect

// Dialect abstracts the engine-specific SQL the dumper reads and writes.
type Dialect interface {
	// Catalog queries. Each takes the schema name as its first argument.
	TablesQuery() string
	ViewsQuery() string
	ProceduresQuery() string
	FunctionsQuery() string
	TriggersQuery() string
	EventsQuery() string
	ColumnsQuery() string     // args: schema, table
	TableExistsQuery() string // args: schema, table
	GranteesQuery() string
	VersionQuery() string

	// Definition retrieval
	ShowCreateQuery(keyword, name string) string
	DefinitionColumn(keyword string) string
	ShowGrantsQuery(grantee string) string

	// Script generation
	QuoteIdent(name string) string
	DropQuery(keyword, name string) string
	SelectQuery(table string, cols []string) string
	InsertPrefix(table string, cols []string) string
	Preamble() []string
	BeginTransaction() []string
	CommitTransaction() []string
	Postamble() []string
	RoutineDelimiter() string
	DelimiterStatement(delim string) string
	SavepointQuery(name string) string
	ReleaseSavepointQuery(name string) string
	RollbackToSavepointQuery(name string) string
}
