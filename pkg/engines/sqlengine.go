package engines

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// DefaultReadOnlyVerbs are accepted by the query path of most SQL backends.
var DefaultReadOnlyVerbs = []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "DESC", "DESCRIBE"}

// SQLConfig describes a backend reached through database/sql.
type SQLConfig struct {
	Type          string
	Driver        string
	Dialect       sqlparse.Dialect
	ReadOnlyVerbs []string
	Limit         LimitStyle

	// DSN builds the data source name for an instance.
	DSN func(inst models.Instance, schema string) (string, error)
	// SchemaInDSN keys pools by instance and schema because the schema is
	// part of the DSN.
	SchemaInDSN bool
	// UseSchema returns the statement selecting schema on a session.
	UseSchema func(schema string) string

	// Explain runs a plan for statement on the session connection. Nil
	// disables planning.
	Explain func(ctx context.Context, conn *sql.Conn, statement string) (models.ExplainResult, error)
	// ExplainVerbs are the leading keywords Explain accepts.
	ExplainVerbs []string

	// ExistsQuery returns a query counting objects that match obj.
	ExistsQuery func(obj models.ObjectRef) (string, []any)
	// DatabasesQuery lists database or schema names in its first column.
	DatabasesQuery string
	// TablesQuery lists (schema, name, type) rows for schema.
	TablesQuery func(schema string) (string, []any)
	// FoldIdent normalises unquoted identifiers before catalog lookups.
	FoldIdent func(string) string
}

// SQLEngine is the shared implementation of Engine over database/sql.
type SQLEngine struct {
	cfg     SQLConfig
	pool    *pool.Manager
	logger  zerolog.Logger
	metrics metrics.Collector
	trace   bool
}

// NewSQLEngine creates a database/sql backed engine.
func NewSQLEngine(cfg SQLConfig, deps Deps) *SQLEngine {
	deps = deps.withDefaults()
	if cfg.ReadOnlyVerbs == nil {
		cfg.ReadOnlyVerbs = DefaultReadOnlyVerbs
	}
	return &SQLEngine{
		cfg:     cfg,
		pool:    deps.Pool,
		logger:  deps.Logger.With().Str("component", "engine").Str("engine", cfg.Type).Logger(),
		metrics: deps.Metrics,
		trace:   deps.TraceSQL,
	}
}

// Type returns the declared database type.
func (e *SQLEngine) Type() string { return e.cfg.Type }

// Dialect returns the script splitting rules.
func (e *SQLEngine) Dialect() sqlparse.Dialect { return e.cfg.Dialect }

// ReadOnlyVerbs lists the keywords accepted by the query path.
func (e *SQLEngine) ReadOnlyVerbs() []string { return e.cfg.ReadOnlyVerbs }

// FilterSQL caps the rows a read query returns.
func (e *SQLEngine) FilterSQL(sql string, limit int) string {
	return ApplyLimit(e.cfg.Limit, sql, limit)
}

// Connect leases a connection for inst and selects schema on it.
func (e *SQLEngine) Connect(ctx context.Context, inst models.Instance, schema string) (Session, error) {
	if schema == "" {
		schema = inst.DefaultSchema
	}

	dsn, err := e.cfg.DSN(inst, schema)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeInvalidRequest, "invalid instance definition")
	}
	key := inst.Name
	if e.cfg.SchemaInDSN {
		key += "/" + schema
	}

	conn, err := e.pool.Conn(ctx, pool.Source{Key: key, Driver: e.cfg.Driver, DSN: dsn})
	if err != nil {
		return nil, err
	}

	s := &SQLSession{
		engine:   e,
		conn:     conn,
		instance: inst.Name,
		schema:   schema,
		logger:   e.logger.With().Str("instance", inst.Name).Str("schema", schema).Logger(),
	}

	if schema != "" && e.cfg.UseSchema != nil {
		if stmt := e.cfg.UseSchema(schema); stmt != "" {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				_ = conn.Close()
				return nil, gerrors.FromDriver(err, "failed to select schema "+schema)
			}
		}
	}
	return s, nil
}

// SQLSession is a leased database/sql connection. It implements Session,
// Planner and Inspector; capabilities the backend lacks report
// ErrNotImplemented.
type SQLSession struct {
	engine   *SQLEngine
	conn     *sql.Conn
	instance string
	schema   string
	logger   zerolog.Logger
}

// Conn exposes the underlying connection to backend specific code.
func (s *SQLSession) Conn() *sql.Conn { return s.conn }

// Execute runs one statement.
func (s *SQLSession) Execute(ctx context.Context, statement string) (int64, error) {
	start := time.Now()
	res, err := s.conn.ExecContext(ctx, statement)
	s.observe(statement, time.Since(start), err)
	if err != nil {
		return 0, gerrors.FromDriver(err, "statement execution failed")
	}

	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers (ClickHouse, Snowflake DDL) cannot report it.
		return 0, nil
	}
	return n, nil
}

// Query runs a read statement.
func (s *SQLSession) Query(ctx context.Context, statement string, limit int) (*models.ResultSet, error) {
	rs := models.NewResultSet(statement)
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx, statement)
	if err == nil {
		err = ScanRows(rows, rs, limit)
	}
	elapsed := time.Since(start)
	s.observe(statement, elapsed, err)
	rs.QueryTime = elapsed.Seconds()
	if err != nil {
		return nil, gerrors.FromDriver(err, "query failed")
	}
	return rs, nil
}

// Close returns the connection to the pool.
func (s *SQLSession) Close() error {
	return s.conn.Close()
}

// Explains reports whether the backend can plan statement.
func (s *SQLSession) Explains(statement string) bool {
	return s.engine.cfg.Explain != nil && sqlparse.StartsWithVerb(statement, s.engine.cfg.ExplainVerbs)
}

// Explain plans statement without running it.
func (s *SQLSession) Explain(ctx context.Context, statement string) (models.ExplainResult, error) {
	if !s.Explains(statement) {
		return models.ExplainResult{}, gerrors.ErrNotImplemented
	}
	start := time.Now()
	res, err := s.engine.cfg.Explain(ctx, s.conn, statement)
	s.observe("EXPLAIN "+statement, time.Since(start), err)
	if err != nil {
		return models.ExplainResult{}, gerrors.FromDriver(err, "explain failed")
	}
	res.Backend = s.engine.cfg.Type
	return res, nil
}

// ObjectExists looks obj up in the catalog. An empty schema means the
// session schema.
func (s *SQLSession) ObjectExists(ctx context.Context, obj models.ObjectRef) (bool, error) {
	if s.engine.cfg.ExistsQuery == nil {
		return false, gerrors.ErrNotImplemented
	}
	if obj.Schema == "" {
		obj.Schema = s.schema
	}
	if fold := s.engine.cfg.FoldIdent; fold != nil {
		obj.Schema, obj.Name = fold(obj.Schema), fold(obj.Name)
	}

	query, args := s.engine.cfg.ExistsQuery(obj)
	var n int64
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, gerrors.FromDriver(err, "object lookup failed")
	}
	return n > 0, nil
}

// GetDatabases lists the databases or schemas visible to the session.
func (s *SQLSession) GetDatabases(ctx context.Context) ([]string, error) {
	if s.engine.cfg.DatabasesQuery == "" {
		return nil, gerrors.ErrNotImplemented
	}
	rs, err := s.Query(ctx, s.engine.cfg.DatabasesQuery, 0)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if len(row) > 0 {
			names = append(names, toString(row[0]))
		}
	}
	return names, nil
}

// GetTables lists tables and views in schema.
func (s *SQLSession) GetTables(ctx context.Context, schema string) ([]models.Table, error) {
	if s.engine.cfg.TablesQuery == nil {
		return nil, gerrors.ErrNotImplemented
	}
	if schema == "" {
		schema = s.schema
	}
	query, args := s.engine.cfg.TablesQuery(schema)
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gerrors.FromDriver(err, "table listing failed")
	}
	defer rows.Close()

	var tables []models.Table
	for rows.Next() {
		var t models.Table
		if err := rows.Scan(&t.SchemaName, &t.Name, &t.Type); err != nil {
			return nil, gerrors.FromDriver(err, "table listing failed")
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.FromDriver(err, "table listing failed")
	}
	return tables, nil
}

func (s *SQLSession) observe(statement string, elapsed time.Duration, err error) {
	s.engine.pool.QueryLogger().LogQuery(s.instance, statement, elapsed, err)
	s.engine.metrics.RecordHistogram(metrics.SessionStatementSeconds, elapsed.Seconds(), "engine", s.engine.cfg.Type)
	if s.engine.trace {
		s.logger.Debug().
			Str("sql", pool.TruncateQuery(statement)).
			Bool("in_session", true).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Statement traced")
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
