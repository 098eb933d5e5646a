// Package oracle registers the Oracle backend on the pure Go go-ora driver.
package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	goOra "github.com/sijms/go-ora/v2"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("oracle", New)
}

// New creates the Oracle engine.
func New(deps engines.Deps) engines.Engine {
	return engines.NewSQLEngine(Config(), deps)
}

var plainIdent = regexp.MustCompile(`^[A-Za-z][\w$#]*$`)

// Config returns the backend description.
func Config() engines.SQLConfig {
	return engines.SQLConfig{
		Type:          "oracle",
		Driver:        "oracle",
		Dialect:       sqlparse.DialectOracle,
		ReadOnlyVerbs: []string{"SELECT", "WITH"},
		Limit:         engines.LimitRownum,
		DSN:           DSN,
		UseSchema:     useSchema,
		Explain:       explain,
		ExplainVerbs:  []string{"INSERT", "UPDATE", "DELETE", "MERGE"},
		ExistsQuery: func(obj models.ObjectRef) (string, []any) {
			return "SELECT COUNT(*) FROM ALL_OBJECTS WHERE OWNER = :1 AND OBJECT_NAME = :2",
				[]any{obj.Schema, obj.Name}
		},
		DatabasesQuery: "SELECT USERNAME FROM ALL_USERS ORDER BY USERNAME",
		TablesQuery: func(schema string) (string, []any) {
			return `SELECT OWNER, TABLE_NAME, 'TABLE' FROM ALL_TABLES WHERE OWNER = :1
UNION ALL SELECT OWNER, VIEW_NAME, 'VIEW' FROM ALL_VIEWS WHERE OWNER = :2
ORDER BY 2`, []any{schema, schema}
		},
		FoldIdent: foldIdent,
	}
}

// DSN renders an oracle:// URL for the service in the "service_name" option
// (falling back to "sid").
func DSN(inst models.Instance, _ string) (string, error) {
	if inst.Host == "" {
		return "", fmt.Errorf("oracle instance %q has no host", inst.Name)
	}
	port := inst.Port
	if port == 0 {
		port = 1521
	}

	options := map[string]string{}
	service := inst.Option("service_name", "")
	if service == "" {
		sid := inst.Option("sid", "")
		if sid == "" {
			return "", fmt.Errorf("oracle instance %q needs service_name or sid", inst.Name)
		}
		options["SID"] = sid
	}
	if timeout := inst.Option("timeout", ""); timeout != "" {
		options["TIMEOUT"] = timeout
	}
	return goOra.BuildUrl(inst.Host, port, service, inst.User, inst.Password, options), nil
}

func useSchema(schema string) string {
	if plainIdent.MatchString(schema) {
		return "ALTER SESSION SET CURRENT_SCHEMA = " + strings.ToUpper(schema)
	}
	return "ALTER SESSION SET CURRENT_SCHEMA = " + engines.QuoteIdent(schema, '"')
}

// foldIdent upper-cases unquoted identifiers the way Oracle stores them.
func foldIdent(ident string) string {
	if plainIdent.MatchString(ident) {
		return strings.ToUpper(ident)
	}
	return ident
}

// explain writes the plan into PLAN_TABLE under a private statement id and
// reads the root cardinality back.
func explain(ctx context.Context, conn *sql.Conn, statement string) (models.ExplainResult, error) {
	id := "SQLGATE_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("EXPLAIN PLAN SET STATEMENT_ID = '%s' FOR %s", id, statement)); err != nil {
		return models.ExplainResult{}, err
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "DELETE FROM PLAN_TABLE WHERE STATEMENT_ID = :1", id)
	}()

	var (
		card  sql.NullInt64
		steps int64
	)
	err := conn.QueryRowContext(ctx,
		"SELECT MAX(CARDINALITY), COUNT(*) FROM PLAN_TABLE WHERE STATEMENT_ID = :1", id).Scan(&card, &steps)
	if err != nil {
		return models.ExplainResult{}, err
	}
	return models.ExplainResult{
		PlanSummary:   fmt.Sprintf("%d plan steps", steps),
		EstimatedRows: card.Int64,
	}, nil
}
