// Package mysql registers the MySQL family (mysql, mariadb, tidb) backend.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("mysql", New, "mariadb", "tidb")
}

// New creates the MySQL engine.
func New(deps engines.Deps) engines.Engine {
	return engines.NewSQLEngine(Config(), deps)
}

// Config returns the backend description.
func Config() engines.SQLConfig {
	return engines.SQLConfig{
		Type:          "mysql",
		Driver:        "mysql",
		Dialect:       sqlparse.DialectMySQL,
		ReadOnlyVerbs: []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "DESC", "DESCRIBE"},
		Limit:         engines.LimitClause,
		DSN:           DSN,
		UseSchema: func(schema string) string {
			return "USE " + engines.QuoteIdent(schema, '`')
		},
		Explain:      explain,
		ExplainVerbs: []string{"INSERT", "UPDATE", "DELETE", "REPLACE"},
		ExistsQuery: func(obj models.ObjectRef) (string, []any) {
			return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
				[]any{obj.Schema, obj.Name}
		},
		DatabasesQuery: "SHOW DATABASES",
		TablesQuery: func(schema string) (string, []any) {
			return "SELECT table_schema, table_name, table_type FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name",
				[]any{schema}
		},
	}
}

// DSN renders the instance as a go-sql-driver DSN. The schema is selected
// per session with USE, so it is not part of the DSN.
func DSN(inst models.Instance, _ string) (string, error) {
	if inst.Host == "" {
		return "", fmt.Errorf("mysql instance %q has no host", inst.Name)
	}
	port := inst.Port
	if port == 0 {
		port = 3306
	}

	cfg := driver.NewConfig()
	cfg.User = inst.User
	cfg.Passwd = inst.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(inst.Host, strconv.Itoa(port))
	cfg.ParseTime = true
	cfg.MultiStatements = false
	cfg.Timeout = 10 * time.Second
	if charset := inst.Option("charset", ""); charset != "" {
		cfg.Params = map[string]string{"charset": charset}
	}
	if d, err := time.ParseDuration(inst.Option("read_timeout", "0s")); err == nil && d > 0 {
		cfg.ReadTimeout = d
	}
	return cfg.FormatDSN(), nil
}

// explain sums the rows column of EXPLAIN over every plan line.
func explain(ctx context.Context, conn *sql.Conn, statement string) (models.ExplainResult, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN "+statement)
	if err != nil {
		return models.ExplainResult{}, err
	}
	rs := models.NewResultSet(statement)
	if err := engines.ScanRows(rows, rs, 0); err != nil {
		return models.ExplainResult{}, err
	}

	var total int64
	idx := rs.ColumnIndex("rows")
	for _, row := range rs.Rows {
		if idx >= 0 {
			total += engines.ToInt64(row[idx])
		}
	}
	return models.ExplainResult{
		PlanSummary:   fmt.Sprintf("%d plan lines", len(rs.Rows)),
		EstimatedRows: total,
	}, nil
}
