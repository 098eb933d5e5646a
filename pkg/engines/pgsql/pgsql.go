// Package pgsql registers the PostgreSQL backend, reached through pgx's
// database/sql adapter.
package pgsql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("pgsql", New, "postgres", "postgresql")
}

// New creates the PostgreSQL engine.
func New(deps engines.Deps) engines.Engine {
	return engines.NewSQLEngine(Config(), deps)
}

// Config returns the backend description.
func Config() engines.SQLConfig {
	return engines.SQLConfig{
		Type:          "pgsql",
		Driver:        "pgx",
		Dialect:       sqlparse.DialectPostgres,
		ReadOnlyVerbs: []string{"SELECT", "WITH", "EXPLAIN", "SHOW", "TABLE", "VALUES"},
		Limit:         engines.LimitClause,
		DSN:           DSN,
		UseSchema: func(schema string) string {
			return "SET search_path TO " + engines.QuoteIdent(schema, '"')
		},
		Explain:      explain,
		ExplainVerbs: []string{"INSERT", "UPDATE", "DELETE", "MERGE"},
		ExistsQuery: func(obj models.ObjectRef) (string, []any) {
			return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2",
				[]any{obj.Schema, obj.Name}
		},
		DatabasesQuery: "SELECT datname FROM pg_database WHERE NOT datistemplate ORDER BY datname",
		TablesQuery: func(schema string) (string, []any) {
			return "SELECT table_schema, table_name, table_type FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name",
				[]any{schema}
		},
		FoldIdent: strings.ToLower,
	}
}

// DSN renders a postgres:// URL. The database comes from the "database"
// option; the schema is applied through search_path.
func DSN(inst models.Instance, _ string) (string, error) {
	if inst.Host == "" {
		return "", fmt.Errorf("pgsql instance %q has no host", inst.Name)
	}
	port := inst.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(inst.User, inst.Password),
		Host:   net.JoinHostPort(inst.Host, strconv.Itoa(port)),
		Path:   "/" + inst.Option("database", "postgres"),
	}
	q := u.Query()
	q.Set("sslmode", inst.Option("sslmode", "prefer"))
	q.Set("application_name", "sqlgate")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var planRows = regexp.MustCompile(`rows=(\d+)`)

// explain takes the largest row estimate in the plan; the ModifyTable node
// of a write always estimates zero.
func explain(ctx context.Context, conn *sql.Conn, statement string) (models.ExplainResult, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN "+statement)
	if err != nil {
		return models.ExplainResult{}, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return models.ExplainResult{}, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return models.ExplainResult{}, err
	}

	res := models.ExplainResult{PlanSummary: strings.Join(lines, "\n")}
	for _, line := range lines {
		if m := planRows.FindStringSubmatch(line); m != nil {
			if n, _ := strconv.ParseInt(m[1], 10, 64); n > res.EstimatedRows {
				res.EstimatedRows = n
			}
		}
	}
	return res, nil
}
