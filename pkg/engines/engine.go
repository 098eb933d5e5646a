// Package engines defines the contract every database backend implements and
// the registry that maps a declared database type to its implementation.
//
// Backends live in sub-packages that register themselves from init, the same
// way database/sql drivers do; import the ones a binary should ship:
//
//	import _ "github.com/TFMV/sqlgate/pkg/engines/mysql"
package engines

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// Engine is one database backend.
type Engine interface {
	// Type returns the declared database type, e.g. "mysql".
	Type() string
	// Dialect returns the lexical rules scripts are split with.
	Dialect() sqlparse.Dialect
	// ReadOnlyVerbs lists the leading keywords accepted by the query path.
	ReadOnlyVerbs() []string
	// FilterSQL rewrites a read query so the server returns at most limit rows.
	FilterSQL(sql string, limit int) string
	// Connect opens a session on the instance with schema selected.
	Connect(ctx context.Context, inst models.Instance, schema string) (Session, error)
}

// Session is one connection owned by a single script or query.
type Session interface {
	// Execute runs a statement and returns the driver reported affected rows.
	Execute(ctx context.Context, statement string) (int64, error)
	// Query runs a read statement returning at most limit rows (0 for all).
	Query(ctx context.Context, statement string, limit int) (*models.ResultSet, error)
	// Close returns the connection to its pool.
	Close() error
}

// Planner is implemented by sessions that can explain a statement without
// running it.
type Planner interface {
	// Explains reports whether statement can be explained at all.
	Explains(statement string) bool
	Explain(ctx context.Context, statement string) (models.ExplainResult, error)
}

// Inspector is implemented by sessions that can read catalog metadata.
type Inspector interface {
	ObjectExists(ctx context.Context, obj models.ObjectRef) (bool, error)
	GetDatabases(ctx context.Context) ([]string, error)
	GetTables(ctx context.Context, schema string) ([]models.Table, error)
}

// Splitter is implemented by engines whose scripts are not split with the
// SQL rules.
type Splitter interface {
	SplitItems(script, defaultSchema string) ([]models.SQLItem, error)
}

// QueryChecker replaces the SQL read-only check for engines with their own
// query language.
type QueryChecker interface {
	QueryCheck(sql string) models.QueryCheckResult
}

// ExecuteChecker replaces the SQL audit pipeline.
type ExecuteChecker interface {
	ExecuteCheck(ctx context.Context, inst models.Instance, schema, script string) *models.ReviewSet
}

// Deps are the shared collaborators handed to every engine.
type Deps struct {
	Pool    *pool.Manager
	Logger  zerolog.Logger
	Metrics metrics.Collector
	// TraceSQL logs every statement at debug level.
	TraceSQL bool
}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = metrics.NewNoOpCollector()
	}
	if d.Pool == nil {
		d.Pool = pool.NewManager(pool.Config{}, d.Logger)
	}
	return d
}

// SplitItems splits a script the way engine e expects.
func SplitItems(e Engine, script, defaultSchema string) ([]models.SQLItem, error) {
	if s, ok := e.(Splitter); ok {
		return s.SplitItems(script, defaultSchema)
	}
	return sqlparse.SplitItems(script, e.Dialect(), defaultSchema)
}
