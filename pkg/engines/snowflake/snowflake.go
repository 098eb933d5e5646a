// Package snowflake registers the Snowflake backend on gosnowflake.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("snowflake", New)
}

// New creates the Snowflake engine.
func New(deps engines.Deps) engines.Engine {
	return engines.NewSQLEngine(Config(), deps)
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][\w$]*$`)

// Config returns the backend description.
func Config() engines.SQLConfig {
	return engines.SQLConfig{
		Type:          "snowflake",
		Driver:        "snowflake",
		Dialect:       sqlparse.DialectSnowflake,
		ReadOnlyVerbs: []string{"SELECT", "WITH", "SHOW", "DESC", "DESCRIBE", "EXPLAIN", "LIST"},
		Limit:         engines.LimitClause,
		DSN:           DSN,
		UseSchema: func(schema string) string {
			return "USE SCHEMA " + ident(schema)
		},
		Explain:      explain,
		ExplainVerbs: []string{"INSERT", "UPDATE", "DELETE", "MERGE"},
		ExistsQuery: func(obj models.ObjectRef) (string, []any) {
			return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?",
				[]any{obj.Schema, obj.Name}
		},
		DatabasesQuery: "SELECT DATABASE_NAME FROM INFORMATION_SCHEMA.DATABASES ORDER BY DATABASE_NAME",
		TablesQuery: func(schema string) (string, []any) {
			return "SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME",
				[]any{schema}
		},
		FoldIdent: fold,
	}
}

// DSN builds the driver DSN. Host is the account identifier unless the
// "account" option is set, in which case Host and Port address a custom
// endpoint.
func DSN(inst models.Instance, _ string) (string, error) {
	cfg := &gosnowflake.Config{
		User:         inst.User,
		Password:     inst.Password,
		Database:     inst.Option("database", ""),
		Warehouse:    inst.Option("warehouse", ""),
		Role:         inst.Option("role", ""),
		LoginTimeout: 30 * time.Second,
	}
	if account := inst.Option("account", ""); account != "" {
		cfg.Account = account
		cfg.Host = inst.Host
		cfg.Port = inst.Port
		cfg.Protocol = inst.Option("protocol", "https")
	} else {
		cfg.Account = inst.Host
	}
	if cfg.Account == "" {
		return "", fmt.Errorf("snowflake instance %q has no account", inst.Name)
	}
	return gosnowflake.DSN(cfg)
}

func ident(s string) string {
	if plainIdent.MatchString(s) {
		return s
	}
	return engines.QuoteIdent(s, '"')
}

func fold(s string) string {
	if plainIdent.MatchString(s) {
		return strings.ToUpper(s)
	}
	return s
}

// explain compiles the statement. Snowflake plans report partitions rather
// than rows, so no estimate is returned.
func explain(ctx context.Context, conn *sql.Conn, statement string) (models.ExplainResult, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN USING TABULAR "+statement)
	if err != nil {
		return models.ExplainResult{}, err
	}
	rs := models.NewResultSet(statement)
	if err := engines.ScanRows(rows, rs, 0); err != nil {
		return models.ExplainResult{}, err
	}
	return models.ExplainResult{PlanSummary: fmt.Sprintf("%d plan steps", len(rs.Rows))}, nil
}
