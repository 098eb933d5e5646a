// Package sqlite registers the SQLite backend on mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("sqlite", New, "sqlite3")
}

// New creates the SQLite engine.
func New(deps engines.Deps) engines.Engine {
	return engines.NewSQLEngine(Config(), deps)
}

// Config returns the backend description. Schemas are attached database
// names, "main" unless told otherwise.
func Config() engines.SQLConfig {
	return engines.SQLConfig{
		Type:          "sqlite",
		Driver:        "sqlite3",
		Dialect:       sqlparse.DialectSQLite,
		ReadOnlyVerbs: []string{"SELECT", "WITH", "EXPLAIN"},
		Limit:         engines.LimitClause,
		DSN:           DSN,
		Explain:       explain,
		ExplainVerbs:  []string{"INSERT", "UPDATE", "DELETE", "REPLACE"},
		ExistsQuery: func(obj models.ObjectRef) (string, []any) {
			return "SELECT count(*) FROM " + catalog(obj.Schema) + " WHERE name = ? COLLATE NOCASE",
				[]any{obj.Name}
		},
		DatabasesQuery: "SELECT name FROM pragma_database_list ORDER BY seq",
		TablesQuery: func(schema string) (string, []any) {
			if schema == "" {
				schema = "main"
			}
			return "SELECT ?, name, type FROM " + catalog(schema) +
				" WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name", []any{schema}
		},
	}
}

// DSN opens the file in the "path" option. Without one, every connection
// of the instance shares a named in-memory database.
func DSN(inst models.Instance, _ string) (string, error) {
	q := url.Values{}
	q.Set("_busy_timeout", inst.Option("busy_timeout", "5000"))

	path := inst.Option("path", "")
	if path == "" || path == ":memory:" {
		q.Set("mode", "memory")
		q.Set("cache", "shared")
		return "file:sqlgate_" + url.PathEscape(inst.Name) + "?" + q.Encode(), nil
	}
	if inst.Option("read_only", "") == "true" {
		q.Set("mode", "ro")
	}
	return "file:" + path + "?" + q.Encode(), nil
}

func catalog(schema string) string {
	if schema == "" {
		schema = "main"
	}
	return engines.QuoteIdent(schema, '"') + ".sqlite_master"
}

// explain only proves the statement compiles; SQLite plans carry no row
// estimates.
func explain(ctx context.Context, conn *sql.Conn, statement string) (models.ExplainResult, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN QUERY PLAN "+statement)
	if err != nil {
		return models.ExplainResult{}, err
	}
	rs := models.NewResultSet(statement)
	if err := engines.ScanRows(rows, rs, 0); err != nil {
		return models.ExplainResult{}, err
	}

	steps := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if len(row) > 0 {
			if s, ok := row[len(row)-1].(string); ok {
				steps = append(steps, s)
			}
		}
	}
	return models.ExplainResult{PlanSummary: strings.Join(steps, "; ")}, nil
}
