// Package sqlparse splits SQL scripts into executable units and classifies
// them. It is pattern based on purpose: no dialect needs a full grammar to be
// split, classified or checked for a top-level WHERE.
package sqlparse

import "strings"

// Dialect describes the lexical rules a script is scanned with.
type Dialect struct {
	Name string
	// HashComments enables MySQL style '#' line comments.
	HashComments bool
	// BackslashEscapes lets '\' escape the next byte inside string literals.
	BackslashEscapes bool
	// BacktickQuotes treats `...` as a quoted identifier.
	BacktickQuotes bool
	// BracketQuotes treats [...] as a quoted identifier.
	BracketQuotes bool
	// DollarQuotes enables PostgreSQL $tag$...$tag$ bodies.
	DollarQuotes bool
	// EscapeStrings lets E'...' literals escape quotes with a backslash.
	EscapeStrings bool
	// SlashTerminator makes a line holding only '/' close the current unit,
	// and keeps ';' inside PL/SQL blocks from splitting them.
	SlashTerminator bool
}

// Built-in dialects.
var (
	DialectGeneric = Dialect{Name: "generic"}
	DialectMySQL   = Dialect{
		Name:             "mysql",
		HashComments:     true,
		BackslashEscapes: true,
		BacktickQuotes:   true,
	}
	DialectPostgres = Dialect{
		Name:          "pgsql",
		DollarQuotes:  true,
		EscapeStrings: true,
	}
	DialectOracle = Dialect{
		Name:            "oracle",
		SlashTerminator: true,
	}
	DialectClickHouse = Dialect{
		Name:             "clickhouse",
		BackslashEscapes: true,
		BacktickQuotes:   true,
	}
	DialectSQLite = Dialect{
		Name:           "sqlite",
		BacktickQuotes: true,
		BracketQuotes:  true,
	}
	DialectSnowflake = Dialect{
		Name:         "snowflake",
		DollarQuotes: true,
	}
)

var dialects = map[string]Dialect{
	"generic":    DialectGeneric,
	"mysql":      DialectMySQL,
	"mariadb":    DialectMySQL,
	"tidb":       DialectMySQL,
	"pgsql":      DialectPostgres,
	"postgres":   DialectPostgres,
	"postgresql": DialectPostgres,
	"oracle":     DialectOracle,
	"clickhouse": DialectClickHouse,
	"sqlite":     DialectSQLite,
	"duckdb":     DialectPostgres,
	"snowflake":  DialectSnowflake,
	"athena":     DialectGeneric,
}

// DialectFor returns the dialect registered for a database type, falling
// back to the generic rules.
func DialectFor(dbType string) Dialect {
	if d, ok := dialects[strings.ToLower(dbType)]; ok {
		return d
	}
	return DialectGeneric
}
