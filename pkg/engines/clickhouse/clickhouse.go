// Package clickhouse registers the ClickHouse backend.
package clickhouse

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("clickhouse", New)
}

// New creates the ClickHouse engine. ClickHouse has no plan estimate for
// mutations, so audits fall back to catalog checks.
func New(deps engines.Deps) engines.Engine {
	return engines.NewSQLEngine(Config(), deps)
}

// Config returns the backend description.
func Config() engines.SQLConfig {
	return engines.SQLConfig{
		Type:          "clickhouse",
		Driver:        "clickhouse",
		Dialect:       sqlparse.DialectClickHouse,
		ReadOnlyVerbs: []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "DESC", "DESCRIBE", "EXISTS"},
		Limit:         engines.LimitClause,
		DSN:           DSN,
		SchemaInDSN:   true,
		ExistsQuery: func(obj models.ObjectRef) (string, []any) {
			return "SELECT count() FROM system.tables WHERE database = ? AND name = ?",
				[]any{obj.Schema, obj.Name}
		},
		DatabasesQuery: "SHOW DATABASES",
		TablesQuery: func(schema string) (string, []any) {
			return "SELECT database, name, engine FROM system.tables WHERE database = ? ORDER BY name",
				[]any{schema}
		},
	}
}

// DSN renders a clickhouse:// URL with schema as the database and checks it
// with the driver's own parser.
func DSN(inst models.Instance, schema string) (string, error) {
	if inst.Host == "" {
		return "", fmt.Errorf("clickhouse instance %q has no host", inst.Name)
	}
	port := inst.Port
	if port == 0 {
		port = 9000
	}
	if schema == "" {
		schema = "default"
	}

	q := url.Values{}
	q.Set("dial_timeout", inst.Option("dial_timeout", "10s"))
	if v := inst.Option("secure", ""); v != "" {
		q.Set("secure", v)
	}
	if v := inst.Option("compress", ""); v != "" {
		q.Set("compress", v)
	}
	u := url.URL{
		Scheme:   "clickhouse",
		User:     url.UserPassword(inst.User, inst.Password),
		Host:     inst.Host + ":" + strconv.Itoa(port),
		Path:     "/" + schema,
		RawQuery: q.Encode(),
	}

	dsn := u.String()
	if _, err := clickhouse.ParseDSN(dsn); err != nil {
		return "", err
	}
	return dsn, nil
}
