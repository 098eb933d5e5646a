// Package athena registers the Amazon Athena backend. Athena has no
// database/sql driver, so statements run through the asynchronous query
// API: start, poll until finished, then page through the results.
package athena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("athena", New)
}

// Client is the subset of the Athena API the engine uses.
type Client interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
	GetTableMetadata(ctx context.Context, in *athena.GetTableMetadataInput, optFns ...func(*athena.Options)) (*athena.GetTableMetadataOutput, error)
	ListDatabases(ctx context.Context, in *athena.ListDatabasesInput, optFns ...func(*athena.Options)) (*athena.ListDatabasesOutput, error)
	ListTableMetadata(ctx context.Context, in *athena.ListTableMetadataInput, optFns ...func(*athena.Options)) (*athena.ListTableMetadataOutput, error)
}

// ClientFunc builds the API client for an instance.
type ClientFunc func(ctx context.Context, inst models.Instance) (Client, error)

const maxPageSize int32 = 1000

// Engine runs statements through the Athena query API.
type Engine struct {
	newClient    ClientFunc
	waitInterval time.Duration
	logger       zerolog.Logger
	metrics      metrics.Collector
	queryLog     *pool.QueryLogger
	trace        bool

	mu      sync.Mutex
	clients map[string]Client
}

// Option configures an Engine.
type Option func(*Engine)

// WithClientFunc replaces how API clients are built.
func WithClientFunc(f ClientFunc) Option {
	return func(e *Engine) { e.newClient = f }
}

// WithWaitInterval sets how often a running query is polled.
func WithWaitInterval(d time.Duration) Option {
	return func(e *Engine) { e.waitInterval = d }
}

// New creates the Athena engine.
func New(deps engines.Deps) engines.Engine {
	return NewEngine(deps)
}

// NewEngine creates the Athena engine with options.
func NewEngine(deps engines.Deps, opts ...Option) *Engine {
	e := &Engine{
		newClient:    defaultClient,
		waitInterval: time.Second,
		logger:       deps.Logger.With().Str("component", "engine").Str("engine", "athena").Logger(),
		metrics:      deps.Metrics,
		trace:        deps.TraceSQL,
		clients:      make(map[string]Client),
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNoOpCollector()
	}
	if deps.Pool != nil {
		e.queryLog = deps.Pool.QueryLogger()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultClient(ctx context.Context, inst models.Instance) (Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region := inst.Option("region", inst.Host); region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	if profile := inst.Option("profile", ""); profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return athena.NewFromConfig(cfg), nil
}

// Type returns "athena".
func (e *Engine) Type() string { return "athena" }

// Dialect returns the generic SQL rules.
func (e *Engine) Dialect() sqlparse.Dialect { return sqlparse.DialectFor("athena") }

// ReadOnlyVerbs lists the keywords accepted by the query path.
func (e *Engine) ReadOnlyVerbs() []string {
	return []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN"}
}

// FilterSQL caps the rows a read query returns.
func (e *Engine) FilterSQL(sql string, limit int) string {
	return engines.ApplyLimit(engines.LimitClause, sql, limit)
}

// Connect returns a session bound to the instance's workgroup, catalog and
// schema. API clients are cached per instance.
func (e *Engine) Connect(ctx context.Context, inst models.Instance, schema string) (engines.Session, error) {
	if schema == "" {
		schema = inst.DefaultSchema
	}

	e.mu.Lock()
	client, ok := e.clients[inst.Name]
	e.mu.Unlock()
	if !ok {
		c, err := e.newClient(ctx, inst)
		if err != nil {
			return nil, gerrors.Wrap(err, gerrors.CodeConnectionFailed, "failed to configure athena client")
		}
		e.mu.Lock()
		if existing, ok := e.clients[inst.Name]; ok {
			c = existing
		} else {
			e.clients[inst.Name] = c
		}
		e.mu.Unlock()
		client = c
	}

	return &Session{
		engine:    e,
		client:    client,
		instance:  inst.Name,
		workgroup: inst.Option("workgroup", "primary"),
		catalog:   inst.Option("catalog", "AwsDataCatalog"),
		output:    inst.Option("output_location", ""),
		schema:    schema,
		logger:    e.logger.With().Str("instance", inst.Name).Str("schema", schema).Logger(),
	}, nil
}

// Session is a logical Athena session. It implements Inspector through the
// data catalog API.
type Session struct {
	engine    *Engine
	client    Client
	instance  string
	workgroup string
	catalog   string
	output    string
	schema    string
	logger    zerolog.Logger
}

// Execute runs a statement and reports the update count Athena returns for
// DML on Iceberg tables, 0 otherwise.
func (s *Session) Execute(ctx context.Context, statement string) (int64, error) {
	start := time.Now()
	id, err := s.run(ctx, statement)
	if err != nil {
		s.observe(statement, time.Since(start), err)
		return 0, err
	}
	out, err := s.client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
		QueryExecutionId: id,
		MaxResults:       aws.Int32(1),
	})
	s.observe(statement, time.Since(start), err)
	if err != nil {
		return 0, gerrors.FromDriver(err, "statement execution failed")
	}
	if out.UpdateCount != nil {
		return *out.UpdateCount, nil
	}
	return 0, nil
}

// Query runs a read statement and pages through its results. The header
// row Athena prepends to the first page of a SELECT is dropped.
func (s *Session) Query(ctx context.Context, statement string, limit int) (*models.ResultSet, error) {
	rs := models.NewResultSet(statement)
	start := time.Now()

	id, err := s.run(ctx, statement)
	if err == nil {
		err = s.fetch(ctx, id, rs, limit, sqlparse.StartsWithVerb(statement, []string{"SELECT", "WITH"}))
	}
	elapsed := time.Since(start)
	s.observe(statement, elapsed, err)
	rs.QueryTime = elapsed.Seconds()
	if err != nil {
		return nil, gerrors.FromDriver(err, "query failed")
	}
	rs.AffectedRows = int64(len(rs.Rows))
	return rs, nil
}

func (s *Session) fetch(ctx context.Context, id *string, rs *models.ResultSet, limit int, header bool) error {
	in := &athena.GetQueryResultsInput{QueryExecutionId: id, MaxResults: aws.Int32(maxPageSize)}
	for page := 1; ; page++ {
		out, err := s.client.GetQueryResults(ctx, in)
		if err != nil {
			return err
		}
		if out.ResultSet == nil {
			return nil
		}

		if page == 1 && out.ResultSet.ResultSetMetadata != nil {
			for _, col := range out.ResultSet.ResultSetMetadata.ColumnInfo {
				rs.ColumnList = append(rs.ColumnList, aws.ToString(col.Name))
				rs.ColumnTypes = append(rs.ColumnTypes, aws.ToString(col.Type))
			}
		}

		rows := out.ResultSet.Rows
		if page == 1 && header && len(rows) > 0 {
			rows = rows[1:]
		}
		for _, row := range rows {
			if limit > 0 && len(rs.Rows) >= limit {
				rs.Truncated = true
				return nil
			}
			values := make([]any, len(row.Data))
			for i, d := range row.Data {
				if d.VarCharValue != nil {
					values[i] = *d.VarCharValue
				}
			}
			rs.Rows = append(rs.Rows, values)
		}

		if out.NextToken == nil {
			return nil
		}
		in.NextToken = out.NextToken
	}
}

// run starts statement and blocks until it leaves the queued and running
// states. A cancelled context stops the query server side.
func (s *Session) run(ctx context.Context, statement string) (*string, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString: aws.String(statement),
		WorkGroup:   aws.String(s.workgroup),
		QueryExecutionContext: &types.QueryExecutionContext{
			Catalog: aws.String(s.catalog),
		},
	}
	if s.schema != "" {
		in.QueryExecutionContext.Database = aws.String(s.schema)
	}
	if s.output != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(s.output)}
	}

	started, err := s.client.StartQueryExecution(ctx, in)
	if err != nil {
		return nil, gerrors.FromDriver(err, "failed to start query")
	}
	id := started.QueryExecutionId

	ticker := time.NewTicker(s.engine.waitInterval)
	defer ticker.Stop()
	for {
		out, err := s.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: id})
		if err != nil {
			return nil, gerrors.FromDriver(err, "failed to poll query")
		}
		status := &types.QueryExecutionStatus{State: types.QueryExecutionStateQueued}
		if out.QueryExecution != nil && out.QueryExecution.Status != nil {
			status = out.QueryExecution.Status
		}
		switch status.State {
		case types.QueryExecutionStateSucceeded:
			return id, nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			reason := aws.ToString(status.StateChangeReason)
			if reason == "" {
				reason = string(status.State)
			}
			return nil, gerrors.Wrap(errors.New(reason), gerrors.CodeStatementExecutionFailed,
				fmt.Sprintf("query %s", string(status.State)))
		}

		select {
		case <-ctx.Done():
			_, _ = s.client.StopQueryExecution(context.WithoutCancel(ctx), &athena.StopQueryExecutionInput{QueryExecutionId: id})
			return nil, gerrors.FromDriver(ctx.Err(), "query cancelled")
		case <-ticker.C:
		}
	}
}

// Close is a no-op; the API is stateless.
func (s *Session) Close() error { return nil }

// ObjectExists looks the table up in the data catalog.
func (s *Session) ObjectExists(ctx context.Context, obj models.ObjectRef) (bool, error) {
	if obj.Schema == "" {
		obj.Schema = s.schema
	}
	_, err := s.client.GetTableMetadata(ctx, &athena.GetTableMetadataInput{
		CatalogName:  aws.String(s.catalog),
		DatabaseName: aws.String(obj.Schema),
		TableName:    aws.String(obj.Name),
	})
	if err == nil {
		return true, nil
	}
	var missing *types.MetadataException
	if errors.As(err, &missing) {
		return false, nil
	}
	return false, gerrors.FromDriver(err, "object lookup failed")
}

// GetDatabases lists the catalog's databases.
func (s *Session) GetDatabases(ctx context.Context) ([]string, error) {
	var names []string
	in := &athena.ListDatabasesInput{CatalogName: aws.String(s.catalog)}
	for {
		out, err := s.client.ListDatabases(ctx, in)
		if err != nil {
			return nil, gerrors.FromDriver(err, "database listing failed")
		}
		for _, db := range out.DatabaseList {
			names = append(names, aws.ToString(db.Name))
		}
		if out.NextToken == nil {
			return names, nil
		}
		in.NextToken = out.NextToken
	}
}

// GetTables lists tables and views in schema.
func (s *Session) GetTables(ctx context.Context, schema string) ([]models.Table, error) {
	if schema == "" {
		schema = s.schema
	}
	var tables []models.Table
	in := &athena.ListTableMetadataInput{
		CatalogName:  aws.String(s.catalog),
		DatabaseName: aws.String(schema),
	}
	for {
		out, err := s.client.ListTableMetadata(ctx, in)
		if err != nil {
			return nil, gerrors.FromDriver(err, "table listing failed")
		}
		for _, t := range out.TableMetadataList {
			tables = append(tables, models.Table{
				SchemaName: schema,
				Name:       aws.ToString(t.Name),
				Type:       aws.ToString(t.TableType),
			})
		}
		if out.NextToken == nil {
			return tables, nil
		}
		in.NextToken = out.NextToken
	}
}

func (s *Session) observe(statement string, elapsed time.Duration, err error) {
	s.engine.queryLog.LogQuery(s.instance, statement, elapsed, err)
	s.engine.metrics.RecordHistogram(metrics.SessionStatementSeconds, elapsed.Seconds(), "engine", "athena")
	if s.engine.trace {
		s.logger.Debug().
			Str("sql", pool.TruncateQuery(statement)).
			Bool("in_session", true).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Statement traced")
	}
}
