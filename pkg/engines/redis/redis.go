// Package redis registers the Redis backend. The schema is the logical
// database index.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("redis", New)
}

// Engine runs redis-cli style commands. One client, which pools its own
// connections, is kept per instance and database index.
type Engine struct {
	logger   zerolog.Logger
	metrics  metrics.Collector
	queryLog *pool.QueryLogger
	trace    bool

	mu      sync.Mutex
	clients map[string]*goredis.Client
}

// New creates the Redis engine.
func New(deps engines.Deps) engines.Engine {
	e := &Engine{
		logger:  deps.Logger.With().Str("component", "engine").Str("engine", "redis").Logger(),
		metrics: deps.Metrics,
		trace:   deps.TraceSQL,
		clients: make(map[string]*goredis.Client),
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNoOpCollector()
	}
	if deps.Pool != nil {
		e.queryLog = deps.Pool.QueryLogger()
	}
	return e
}

// Type returns "redis".
func (e *Engine) Type() string { return "redis" }

// Dialect is only used for tokenizing.
func (e *Engine) Dialect() sqlparse.Dialect { return sqlparse.DialectGeneric }

// ReadOnlyVerbs lists the commands accepted by the query path.
func (e *Engine) ReadOnlyVerbs() []string {
	verbs := make([]string, 0, len(readCommands))
	for c := range readCommands {
		verbs = append(verbs, c)
	}
	sort.Strings(verbs)
	return verbs
}

// FilterSQL returns the command unchanged; results are capped client side.
func (e *Engine) FilterSQL(stmt string, _ int) string { return stmt }

// SplitItems returns one item per command line.
func (e *Engine) SplitItems(script, _ string) ([]models.SQLItem, error) {
	cmds := SplitCommands(script)
	items := make([]models.SQLItem, len(cmds))
	for i, c := range cmds {
		items[i] = models.SQLItem{Statement: c, StmtType: models.StmtTypeSQL}
	}
	return items, nil
}

// Options builds client options for the instance and database index.
func Options(inst models.Instance, db int) (*goredis.Options, error) {
	if inst.Host == "" {
		return nil, fmt.Errorf("redis instance %q has no host", inst.Name)
	}
	port := inst.Port
	if port == 0 {
		port = 6379
	}
	return &goredis.Options{
		Addr:         net.JoinHostPort(inst.Host, strconv.Itoa(port)),
		Username:     inst.User,
		Password:     inst.Password,
		DB:           db,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, nil
}

func (e *Engine) client(ctx context.Context, inst models.Instance, db int) (*goredis.Client, error) {
	key := inst.Name + "/" + strconv.Itoa(db)

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[key]; ok {
		return c, nil
	}

	opts, err := Options(inst, db)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeInvalidRequest, "invalid instance definition")
	}
	c := goredis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, gerrors.Wrap(err, gerrors.CodeConnectionFailed, "database connection failed")
	}
	e.clients[key] = c
	return c, nil
}

// Connect returns a session on database index schema, 0 when empty.
func (e *Engine) Connect(ctx context.Context, inst models.Instance, schema string) (engines.Session, error) {
	if schema == "" {
		schema = inst.DefaultSchema
	}
	db := 0
	if schema != "" {
		n, err := strconv.Atoi(schema)
		if err != nil || n < 0 {
			return nil, gerrors.Newf(gerrors.CodeInvalidRequest, "redis database %q is not an index", schema)
		}
		db = n
	}

	c, err := e.client(ctx, inst, db)
	if err != nil {
		return nil, err
	}
	return &Session{
		engine:   e,
		client:   c,
		instance: inst.Name,
		logger:   e.logger.With().Str("instance", inst.Name).Int("db", db).Logger(),
	}, nil
}

// Close closes every cached client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for key, c := range e.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(e.clients, key)
	}
	return first
}

// Session runs commands on one database index. It implements Inspector.
type Session struct {
	engine   *Engine
	client   *goredis.Client
	instance string
	logger   zerolog.Logger
}

func (s *Session) do(ctx context.Context, stmt string) (any, error) {
	args, err := ParseArgs(stmt)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, gerrors.New(gerrors.CodeMalformedStatement, "empty command")
	}
	if IsDenied(args) {
		return nil, gerrors.Newf(gerrors.CodeStatementRejected, "%s is not allowed", Name(args))
	}

	cmdArgs := make([]any, len(args))
	for i, a := range args {
		cmdArgs[i] = a
	}
	start := time.Now()
	res, err := s.client.Do(ctx, cmdArgs...).Result()
	if errors.Is(err, goredis.Nil) {
		res, err = nil, nil
	}
	s.observe(stmt, time.Since(start), err)
	if err != nil {
		return nil, gerrors.FromDriver(err, "command failed")
	}
	return res, nil
}

// Execute runs a write command. Integer replies are reported as affected
// rows and a plain OK counts as one.
func (s *Session) Execute(ctx context.Context, stmt string) (int64, error) {
	res, err := s.do(ctx, stmt)
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		if v == "OK" {
			return 1, nil
		}
	}
	return 0, nil
}

// Query runs a read command. Array replies become one row per element and
// map replies a field/value pair per row.
func (s *Session) Query(ctx context.Context, stmt string, limit int) (*models.ResultSet, error) {
	args, err := ParseArgs(stmt)
	if err != nil {
		return nil, err
	}
	if !IsRead(args) {
		return nil, gerrors.Newf(gerrors.CodeStatementRejected, "%s is not a read command", Name(args))
	}

	start := time.Now()
	res, err := s.do(ctx, stmt)
	if err != nil {
		return nil, err
	}

	rs := models.NewResultSet(stmt)
	fillResultSet(rs, res)
	rs.Limit(limit)
	rs.QueryTime = time.Since(start).Seconds()
	return rs, nil
}

func fillResultSet(rs *models.ResultSet, res any) {
	switch v := res.(type) {
	case []any:
		rs.ColumnList = []string{"value"}
		for _, item := range v {
			rs.Rows = append(rs.Rows, []any{cell(item)})
		}
	case map[any]any:
		rs.ColumnList = []string{"field", "value"}
		keys := make([]string, 0, len(v))
		values := make(map[string]any, len(v))
		for k, val := range v {
			ks := fmt.Sprint(k)
			keys = append(keys, ks)
			values[ks] = val
		}
		sort.Strings(keys)
		for _, k := range keys {
			rs.Rows = append(rs.Rows, []any{k, cell(values[k])})
		}
	default:
		rs.ColumnList = []string{"value"}
		rs.Rows = append(rs.Rows, []any{cell(v)})
	}
	rs.AffectedRows = int64(len(rs.Rows))
}

func cell(v any) any {
	switch x := v.(type) {
	case []any, map[any]any:
		b, err := json.Marshal(stringKeys(x))
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return v
	}
}

func stringKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}

// Close is a no-op; the engine owns the client.
func (s *Session) Close() error { return nil }

// ObjectExists reports whether key obj.Name exists.
func (s *Session) ObjectExists(ctx context.Context, obj models.ObjectRef) (bool, error) {
	n, err := s.client.Exists(ctx, obj.Name).Result()
	if err != nil {
		return false, gerrors.FromDriver(err, "object lookup failed")
	}
	return n > 0, nil
}

// GetDatabases lists the database indexes the server exposes.
func (s *Session) GetDatabases(ctx context.Context) ([]string, error) {
	count := 16
	if cfg, err := s.client.ConfigGet(ctx, "databases").Result(); err == nil {
		if n, err := strconv.Atoi(cfg["databases"]); err == nil && n > 0 {
			count = n
		}
	}
	dbs := make([]string, count)
	for i := range dbs {
		dbs[i] = strconv.Itoa(i)
	}
	return dbs, nil
}

// GetTables is not meaningful for a key-value store.
func (s *Session) GetTables(context.Context, string) ([]models.Table, error) {
	return nil, gerrors.ErrNotImplemented
}

func (s *Session) observe(stmt string, elapsed time.Duration, err error) {
	s.engine.queryLog.LogQuery(s.instance, stmt, elapsed, err)
	s.engine.metrics.RecordHistogram(metrics.SessionStatementSeconds, elapsed.Seconds(), "engine", "redis")
	if s.engine.trace {
		s.logger.Debug().
			Str("sql", pool.TruncateQuery(stmt)).
			Bool("in_session", true).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Statement traced")
	}
}
