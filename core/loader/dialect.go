package loader

import (
	"strconv"
	"strings"
)

// Dialect renders the vendor specific parts of generated SQL.
type Dialect interface {
	Name() string
	// QuoteIdentifier quotes a table, column or alias name.
	QuoteIdentifier(name string) string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
}

// StandardDialect quotes with double quotes and binds with "?".
type StandardDialect struct{}

func (StandardDialect) Name() string { return "standard" }

func (StandardDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (StandardDialect) Placeholder(int) string { return "?" }

// PostgresDialect binds with numbered "$n" parameters.
type PostgresDialect struct {
	StandardDialect
}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// MySQLDialect quotes with backticks.
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (MySQLDialect) Placeholder(int) string { return "?" }

// DialectFor returns the dialect matching a database/sql driver name. Unknown
// drivers get the StandardDialect.
func DialectFor(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return PostgresDialect{}
	case "mysql":
		return MySQLDialect{}
	}
	return StandardDialect{}
}
