// Package mongo registers the MongoDB backend. Statements use the shell's
// db.<collection>.<method>(...) form with Extended JSON arguments.
package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

func init() {
	engines.Register("mongo", New, "mongodb")
}

// Engine runs shell-style commands through the official driver. One
// client, itself a connection pool, is kept per instance.
type Engine struct {
	logger   zerolog.Logger
	metrics  metrics.Collector
	queryLog *pool.QueryLogger
	trace    bool

	mu      sync.Mutex
	clients map[string]*mongo.Client
}

// New creates the MongoDB engine.
func New(deps engines.Deps) engines.Engine {
	e := &Engine{
		logger:  deps.Logger.With().Str("component", "engine").Str("engine", "mongo").Logger(),
		metrics: deps.Metrics,
		trace:   deps.TraceSQL,
		clients: make(map[string]*mongo.Client),
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNoOpCollector()
	}
	if deps.Pool != nil {
		e.queryLog = deps.Pool.QueryLogger()
	}
	return e
}

// Type returns "mongo".
func (e *Engine) Type() string { return "mongo" }

// Dialect is unused for splitting but keeps quote rules for tokenizing.
func (e *Engine) Dialect() sqlparse.Dialect { return sqlparse.DialectGeneric }

// ReadOnlyVerbs lists the methods accepted by the query path.
func (e *Engine) ReadOnlyVerbs() []string {
	var verbs []string
	for m, k := range methods {
		if k == kindRead {
			verbs = append(verbs, m)
		}
	}
	sort.Strings(verbs)
	return verbs
}

// FilterSQL caps find and aggregate cursors with a limit.
func (e *Engine) FilterSQL(stmt string, limit int) string {
	return applyLimit(stmt, limit)
}

// SplitItems splits a script into commands.
func (e *Engine) SplitItems(script, _ string) ([]models.SQLItem, error) {
	cmds, err := SplitCommands(script)
	if err != nil {
		return nil, err
	}
	items := make([]models.SQLItem, len(cmds))
	for i, c := range cmds {
		items[i] = models.SQLItem{Statement: c, StmtType: models.StmtTypeSQL}
	}
	return items, nil
}

// URI returns the connection string: the "uri" option verbatim, otherwise
// one built from host, port and credentials.
func URI(inst models.Instance) (string, error) {
	if uri := inst.Option("uri", ""); uri != "" {
		return uri, nil
	}
	if inst.Host == "" {
		return "", fmt.Errorf("mongo instance %q has no host", inst.Name)
	}
	port := inst.Port
	if port == 0 {
		port = 27017
	}
	u := url.URL{Scheme: "mongodb", Host: inst.Host + ":" + strconv.Itoa(port), Path: "/"}
	if inst.User != "" {
		u.User = url.UserPassword(inst.User, inst.Password)
		q := url.Values{}
		q.Set("authSource", inst.Option("auth_source", "admin"))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (e *Engine) client(ctx context.Context, inst models.Instance) (*mongo.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[inst.Name]; ok {
		return c, nil
	}

	uri, err := URI(inst)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeInvalidRequest, "invalid instance definition")
	}
	opts := options.Client().ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetAppName("sqlgate")
	c, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeConnectionFailed, "failed to connect to mongo")
	}
	if err := c.Ping(ctx, nil); err != nil {
		_ = c.Disconnect(context.WithoutCancel(ctx))
		return nil, gerrors.Wrap(err, gerrors.CodeConnectionFailed, "database connection failed")
	}
	e.clients[inst.Name] = c
	return c, nil
}

// Connect returns a session on database schema.
func (e *Engine) Connect(ctx context.Context, inst models.Instance, schema string) (engines.Session, error) {
	if schema == "" {
		schema = inst.DefaultSchema
	}
	if schema == "" {
		schema = "test"
	}
	c, err := e.client(ctx, inst)
	if err != nil {
		return nil, err
	}
	return &Session{
		engine:   e,
		client:   c,
		db:       c.Database(schema),
		instance: inst.Name,
		logger:   e.logger.With().Str("instance", inst.Name).Str("schema", schema).Logger(),
	}, nil
}

// Close disconnects every cached client.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for name, c := range e.clients {
		if err := c.Disconnect(ctx); err != nil && first == nil {
			first = err
		}
		delete(e.clients, name)
	}
	return first
}

// Session runs commands against one database. It implements Inspector.
type Session struct {
	engine   *Engine
	client   *mongo.Client
	db       *mongo.Database
	instance string
	logger   zerolog.Logger
}

// Execute runs a write or DDL command and returns the documents it touched.
func (s *Session) Execute(ctx context.Context, stmt string) (int64, error) {
	start := time.Now()
	n, err := s.execute(ctx, stmt)
	s.observe(stmt, time.Since(start), err)
	if err != nil {
		return 0, gerrors.FromDriver(err, "statement execution failed")
	}
	return n, nil
}

func (s *Session) execute(ctx context.Context, stmt string) (int64, error) {
	cmd, err := ParseCommand(stmt)
	if err != nil {
		return 0, err
	}
	if cmd.Show != "" {
		return 0, gerrors.New(gerrors.CodeStatementRejected, "show is a read command")
	}
	coll := s.db.Collection(cmd.Collection)

	switch cmd.Method {
	case "insertOne":
		doc, err := cmd.doc(0)
		if err != nil {
			return 0, err
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return 0, err
		}
		return 1, nil
	case "insertMany":
		docs, ok := argAt(cmd.Args, 0).(bson.A)
		if !ok {
			return 0, gerrors.New(gerrors.CodeMalformedStatement, "insertMany takes an array of documents")
		}
		res, err := coll.InsertMany(ctx, []any(docs))
		if err != nil {
			return 0, err
		}
		return int64(len(res.InsertedIDs)), nil
	case "updateOne", "updateMany", "replaceOne":
		filter, err := cmd.doc(0)
		if err != nil {
			return 0, err
		}
		update := argAt(cmd.Args, 1)
		if update == nil {
			return 0, gerrors.Newf(gerrors.CodeMalformedStatement, "%s needs an update", cmd.Method)
		}
		var res *mongo.UpdateResult
		switch cmd.Method {
		case "updateOne":
			res, err = coll.UpdateOne(ctx, filter, update)
		case "updateMany":
			res, err = coll.UpdateMany(ctx, filter, update)
		default:
			res, err = coll.ReplaceOne(ctx, filter, update)
		}
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount + res.UpsertedCount, nil
	case "deleteOne", "deleteMany":
		filter, err := cmd.doc(0)
		if err != nil {
			return 0, err
		}
		var res *mongo.DeleteResult
		if cmd.Method == "deleteOne" {
			res, err = coll.DeleteOne(ctx, filter)
		} else {
			res, err = coll.DeleteMany(ctx, filter)
		}
		if err != nil {
			return 0, err
		}
		return res.DeletedCount, nil
	case "drop":
		return 0, coll.Drop(ctx)
	case "createCollection":
		return 0, s.db.CreateCollection(ctx, cmd.Collection)
	case "createIndex":
		keys, err := cmd.doc(0)
		if err != nil {
			return 0, err
		}
		model := mongo.IndexModel{Keys: keys}
		if len(cmd.Args) > 1 {
			o, err := cmd.doc(1)
			if err != nil {
				return 0, err
			}
			model.Options = indexOptions(o)
		}
		_, err = coll.Indexes().CreateOne(ctx, model)
		return 0, err
	case "dropIndex":
		name, err := cmd.str(0)
		if err != nil {
			return 0, err
		}
		_, err = coll.Indexes().DropOne(ctx, name)
		return 0, err
	case "renameCollection":
		to, err := cmd.str(0)
		if err != nil {
			return 0, err
		}
		from := s.db.Name() + "." + cmd.Collection
		res := s.client.Database("admin").RunCommand(ctx, bson.D{
			{Key: "renameCollection", Value: from},
			{Key: "to", Value: s.db.Name() + "." + to},
		})
		return 0, res.Err()
	}
	return 0, gerrors.Newf(gerrors.CodeStatementRejected, "%s is a read command", cmd.Method)
}

func indexOptions(o bson.D) *options.IndexOptions {
	opts := options.Index()
	for _, e := range o {
		switch e.Key {
		case "name":
			if v, ok := e.Value.(string); ok {
				opts.SetName(v)
			}
		case "unique":
			if v, ok := e.Value.(bool); ok {
				opts.SetUnique(v)
			}
		case "sparse":
			if v, ok := e.Value.(bool); ok {
				opts.SetSparse(v)
			}
		case "expireAfterSeconds":
			if v, ok := e.Value.(int32); ok {
				opts.SetExpireAfterSeconds(v)
			}
		}
	}
	return opts
}

// Query runs a read command. Documents become rows whose columns are the
// union of top-level keys in order of first appearance.
func (s *Session) Query(ctx context.Context, stmt string, limit int) (*models.ResultSet, error) {
	rs := models.NewResultSet(stmt)
	start := time.Now()
	docs, err := s.read(ctx, stmt, limit)
	elapsed := time.Since(start)
	s.observe(stmt, elapsed, err)
	rs.QueryTime = elapsed.Seconds()
	if err != nil {
		return nil, gerrors.FromDriver(err, "query failed")
	}

	fillResultSet(rs, docs, limit)
	return rs, nil
}

func (s *Session) read(ctx context.Context, stmt string, limit int) ([]bson.D, error) {
	cmd, err := ParseCommand(stmt)
	if err != nil {
		return nil, err
	}

	switch cmd.Show {
	case "dbs":
		names, err := s.client.ListDatabaseNames(ctx, bson.D{})
		return namesToDocs(names), err
	case "collections":
		names, err := s.db.ListCollectionNames(ctx, bson.D{})
		return namesToDocs(names), err
	}

	if !cmd.ReadOnly() {
		return nil, gerrors.Newf(gerrors.CodeStatementRejected, "%s is not a read command", cmd.Method)
	}
	coll := s.db.Collection(cmd.Collection)

	switch cmd.Method {
	case "find", "findOne":
		filter, err := cmd.doc(0)
		if err != nil {
			return nil, err
		}
		opts := options.Find()
		if len(cmd.Args) > 1 {
			projection, err := cmd.doc(1)
			if err != nil {
				return nil, err
			}
			opts.SetProjection(projection)
		}
		if cmd.Sort != nil {
			opts.SetSort(cmd.Sort)
		}
		if cmd.Skip > 0 {
			opts.SetSkip(cmd.Skip)
		}
		n := cmd.Limit
		if cmd.Method == "findOne" {
			n = 1
		}
		if limit > 0 && (n == 0 || n > int64(limit)+1) {
			n = int64(limit) + 1
		}
		if n > 0 {
			opts.SetLimit(n)
		}
		cur, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		var docs []bson.D
		err = cur.All(ctx, &docs)
		return docs, err
	case "aggregate":
		pipeline, ok := argAt(cmd.Args, 0).(bson.A)
		if !ok {
			return nil, gerrors.New(gerrors.CodeMalformedStatement, "aggregate takes a pipeline array")
		}
		if cmd.Sort != nil {
			pipeline = append(pipeline, bson.D{{Key: "$sort", Value: cmd.Sort}})
		}
		if cmd.Skip > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$skip", Value: cmd.Skip}})
		}
		if cmd.Limit > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$limit", Value: cmd.Limit}})
		}
		cur, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, err
		}
		var docs []bson.D
		err = cur.All(ctx, &docs)
		return docs, err
	case "count", "countDocuments":
		filter, err := cmd.doc(0)
		if err != nil {
			return nil, err
		}
		n, err := coll.CountDocuments(ctx, filter)
		return []bson.D{{{Key: "count", Value: n}}}, err
	case "estimatedDocumentCount":
		n, err := coll.EstimatedDocumentCount(ctx)
		return []bson.D{{{Key: "count", Value: n}}}, err
	case "distinct":
		field, err := cmd.str(0)
		if err != nil {
			return nil, err
		}
		filter, err := cmd.doc(1)
		if err != nil {
			return nil, err
		}
		values, err := coll.Distinct(ctx, field, filter)
		if err != nil {
			return nil, err
		}
		docs := make([]bson.D, len(values))
		for i, v := range values {
			docs[i] = bson.D{{Key: field, Value: v}}
		}
		return docs, nil
	}
	return nil, gerrors.Newf(gerrors.CodeStatementRejected, "%s is not supported on the query path", cmd.Method)
}

// Close is a no-op; the engine owns the client.
func (s *Session) Close() error { return nil }

// ObjectExists reports whether the collection exists.
func (s *Session) ObjectExists(ctx context.Context, obj models.ObjectRef) (bool, error) {
	db := s.db
	if obj.Schema != "" {
		db = s.client.Database(obj.Schema)
	}
	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: obj.Name}})
	if err != nil {
		return false, gerrors.FromDriver(err, "object lookup failed")
	}
	return len(names) > 0, nil
}

// GetDatabases lists database names.
func (s *Session) GetDatabases(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, gerrors.FromDriver(err, "database listing failed")
	}
	return names, nil
}

// GetTables lists the collections of schema.
func (s *Session) GetTables(ctx context.Context, schema string) ([]models.Table, error) {
	db := s.db
	if schema != "" {
		db = s.client.Database(schema)
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, gerrors.FromDriver(err, "table listing failed")
	}
	tables := make([]models.Table, len(names))
	for i, n := range names {
		tables[i] = models.Table{SchemaName: db.Name(), Name: n, Type: "COLLECTION"}
	}
	return tables, nil
}

func (s *Session) observe(stmt string, elapsed time.Duration, err error) {
	s.engine.queryLog.LogQuery(s.instance, stmt, elapsed, err)
	s.engine.metrics.RecordHistogram(metrics.SessionStatementSeconds, elapsed.Seconds(), "engine", "mongo")
	if s.engine.trace {
		s.logger.Debug().
			Str("sql", pool.TruncateQuery(stmt)).
			Bool("in_session", true).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Statement traced")
	}
}

func argAt(a bson.A, i int) any {
	if i < len(a) {
		return a[i]
	}
	return nil
}

func namesToDocs(names []string) []bson.D {
	docs := make([]bson.D, len(names))
	for i, n := range names {
		docs[i] = bson.D{{Key: "name", Value: n}}
	}
	return docs
}

func fillResultSet(rs *models.ResultSet, docs []bson.D, limit int) {
	index := map[string]int{}
	for _, d := range docs {
		for _, e := range d {
			if _, ok := index[e.Key]; !ok {
				index[e.Key] = len(rs.ColumnList)
				rs.ColumnList = append(rs.ColumnList, e.Key)
			}
		}
	}
	for _, d := range docs {
		if limit > 0 && len(rs.Rows) >= limit {
			rs.Truncated = true
			break
		}
		row := make([]any, len(rs.ColumnList))
		for _, e := range d {
			row[index[e.Key]] = cell(e.Value)
		}
		rs.Rows = append(rs.Rows, row)
	}
	rs.AffectedRows = int64(len(rs.Rows))
}

// cell flattens a BSON value for display and masking. Nested documents and
// arrays become JSON text.
func cell(v any) any {
	switch v.(type) {
	case bson.D, bson.A, bson.M:
		b, err := json.Marshal(plain(v))
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return plain(v)
}

func plain(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = plain(val)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return x.String()
	case primitive.Binary:
		return fmt.Sprintf("%x", x.Data)
	default:
		return v
	}
}
