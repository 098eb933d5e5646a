// Package duckdb registers the embedded DuckDB backend.
package duckdb

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("duckdb", New)
}

// New creates the DuckDB engine.
func New(deps engines.Deps) engines.Engine {
	return engines.NewSQLEngine(Config(), deps)
}

// Config returns the backend description.
func Config() engines.SQLConfig {
	return engines.SQLConfig{
		Type:          "duckdb",
		Driver:        "duckdb",
		Dialect:       sqlparse.DialectPostgres,
		ReadOnlyVerbs: []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "DESCRIBE", "SUMMARIZE", "FROM", "PRAGMA"},
		Limit:         engines.LimitClause,
		DSN:           DSN,
		UseSchema: func(schema string) string {
			return "SET schema = " + engines.QuoteLiteral(schema)
		},
		Explain:      explain,
		ExplainVerbs: []string{"INSERT", "UPDATE", "DELETE"},
		ExistsQuery: func(obj models.ObjectRef) (string, []any) {
			return "SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
				[]any{obj.Schema, obj.Name}
		},
		DatabasesQuery: "SELECT schema_name FROM information_schema.schemata ORDER BY schema_name",
		TablesQuery: func(schema string) (string, []any) {
			return "SELECT table_schema, table_name, table_type FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name",
				[]any{schema}
		},
	}
}

// DSN is the database file from the "path" option, in memory by default.
// A MotherDuck path takes the instance password as its token. Extra options
// are passed as DuckDB settings.
func DSN(inst models.Instance, _ string) (string, error) {
	path := inst.Option("path", ":memory:")
	switch {
	case path == ":memory:":
		path = ""
	case isMotherDuck(path):
		path = motherDuckPath(path, inst.Password)
	}
	var settings []string
	if v := inst.Option("access_mode", ""); v != "" {
		settings = append(settings, "access_mode="+v)
	}
	if v := inst.Option("threads", ""); v != "" {
		settings = append(settings, "threads="+v)
	}
	if len(settings) == 0 {
		return path, nil
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(settings, "&"), nil
}

// Matches both "~12 rows" (DuckDB 1.1+) and "EC: 12" cardinality markers.
var cardinality = regexp.MustCompile(`(?i)~\s*([\d,]+)\s*rows?|EC:\s*([\d,]+)`)

func explain(ctx context.Context, conn *sql.Conn, statement string) (models.ExplainResult, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN "+statement)
	if err != nil {
		return models.ExplainResult{}, err
	}
	rs := models.NewResultSet(statement)
	if err := engines.ScanRows(rows, rs, 0); err != nil {
		return models.ExplainResult{}, err
	}

	var (
		plan strings.Builder
		peak int64
	)
	for _, row := range rs.Rows {
		if len(row) == 0 {
			continue
		}
		text, _ := row[len(row)-1].(string)
		plan.WriteString(text)
		for _, m := range cardinality.FindAllStringSubmatch(text, -1) {
			digits := m[1]
			if digits == "" {
				digits = m[2]
			}
			n, err := strconv.ParseInt(strings.ReplaceAll(digits, ",", ""), 10, 64)
			if err == nil && n > peak {
				peak = n
			}
		}
	}
	return models.ExplainResult{PlanSummary: firstLine(plan.String()), EstimatedRows: peak}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
