package services

import (
	"context"
	"strings"
	"sync"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// fakeEngine hands out sessions backed by a shared fakeDB.
type fakeEngine struct {
	db         *fakeDB
	connectErr error
	plain      bool // sessions implement neither Planner nor Inspector
	limit      func(sql string, limit int) string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{db: newFakeDB()}
}

func (e *fakeEngine) Type() string              { return "fake" }
func (e *fakeEngine) Dialect() sqlparse.Dialect { return sqlparse.DialectMySQL }
func (e *fakeEngine) ReadOnlyVerbs() []string   { return engines.DefaultReadOnlyVerbs }

func (e *fakeEngine) FilterSQL(sql string, limit int) string {
	if e.limit != nil {
		return e.limit(sql, limit)
	}
	return engines.ApplyLimit(engines.LimitClause, sql, limit)
}

func (e *fakeEngine) Connect(_ context.Context, _ models.Instance, schema string) (engines.Session, error) {
	if e.connectErr != nil {
		return nil, e.connectErr
	}
	e.db.mu.Lock()
	e.db.connects++
	e.db.schemas = append(e.db.schemas, schema)
	e.db.mu.Unlock()

	s := &fakeSession{db: e.db}
	if e.plain {
		return plainSession{s}, nil
	}
	return s, nil
}

// fakeDB is the state every session of a fakeEngine shares.
type fakeDB struct {
	mu       sync.Mutex
	connects int
	closes   int
	schemas  []string
	executed []string
	queries  []string

	// failOn fails any statement containing the substring.
	failOn     string
	objects    map[string]bool
	estimates  map[string]int64
	explainErr error
	// strictPlans fails plans of statements whose table is not in objects.
	strictPlans bool
	result      *models.ResultSet
	queryErr    error
	databases   []string
	tables      map[string][]models.Table
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		objects:   make(map[string]bool),
		estimates: make(map[string]int64),
		tables:    make(map[string][]models.Table),
	}
}

func (db *fakeDB) addObject(schema, name string) {
	db.objects[models.ObjectRef{Schema: schema, Name: name}.Key()] = true
}

type fakeSession struct {
	db *fakeDB
}

func (s *fakeSession) Execute(_ context.Context, stmt string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.executed = append(s.db.executed, stmt)
	if s.db.failOn != "" && strings.Contains(stmt, s.db.failOn) {
		return 0, gerrors.New(gerrors.CodeStatementExecutionFailed, "boom")
	}
	return 1, nil
}

func (s *fakeSession) Query(_ context.Context, stmt string, _ int) (*models.ResultSet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.queries = append(s.db.queries, stmt)
	if s.db.queryErr != nil {
		return nil, s.db.queryErr
	}
	rs := models.NewResultSet(stmt)
	if s.db.result != nil {
		rs.ColumnList = append(rs.ColumnList, s.db.result.ColumnList...)
		for _, row := range s.db.result.Rows {
			rs.Rows = append(rs.Rows, append([]any(nil), row...))
		}
	}
	rs.AffectedRows = int64(len(rs.Rows))
	return rs, nil
}

func (s *fakeSession) Close() error {
	s.db.mu.Lock()
	s.db.closes++
	s.db.mu.Unlock()
	return nil
}

func (s *fakeSession) Explains(stmt string) bool {
	return sqlparse.Classify(stmt) == sqlparse.CategoryDML
}

func (s *fakeSession) Explain(_ context.Context, stmt string) (models.ExplainResult, error) {
	if s.db.explainErr != nil {
		return models.ExplainResult{}, s.db.explainErr
	}
	if t, ok := sqlparse.ExtractTarget(stmt); ok && s.db.strictPlans {
		obj := t.Object
		if obj.Schema == "" {
			obj.Schema = testInstance.DefaultSchema
		}
		if !s.db.objects[models.ObjectRef{Schema: obj.Schema, Name: obj.Name}.Key()] {
			return models.ExplainResult{}, gerrors.New(gerrors.CodeStatementExecutionFailed, "no such table: "+obj.Name)
		}
	}
	return models.ExplainResult{Backend: "fake", EstimatedRows: s.db.estimates[stmt]}, nil
}

func (s *fakeSession) ObjectExists(_ context.Context, obj models.ObjectRef) (bool, error) {
	return s.db.objects[obj.Key()], nil
}

func (s *fakeSession) GetDatabases(context.Context) ([]string, error) {
	return s.db.databases, nil
}

func (s *fakeSession) GetTables(_ context.Context, schema string) ([]models.Table, error) {
	return s.db.tables[schema], nil
}

// plainSession hides the optional capabilities of fakeSession.
type plainSession struct {
	s *fakeSession
}

func (p plainSession) Execute(ctx context.Context, stmt string) (int64, error) {
	return p.s.Execute(ctx, stmt)
}

func (p plainSession) Query(ctx context.Context, stmt string, limit int) (*models.ResultSet, error) {
	return p.s.Query(ctx, stmt, limit)
}

func (p plainSession) Close() error { return p.s.Close() }

var (
	_ engines.Engine    = (*fakeEngine)(nil)
	_ engines.Planner   = (*fakeSession)(nil)
	_ engines.Inspector = (*fakeSession)(nil)
)

// fakeRecorder keeps captures in memory.
type fakeRecorder struct {
	mu       sync.Mutex
	captures []CaptureRequest
	failOn   string
}

func (r *fakeRecorder) Capture(_ context.Context, req CaptureRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && strings.Contains(req.Statement, r.failOn) {
		return "", gerrors.New(gerrors.CodeInternal, "snapshot failed")
	}
	r.captures = append(r.captures, req)
	return "bk-" + req.Sequence, nil
}

func (r *fakeRecorder) RollbackStatementsFor(_ context.Context, workflowID string) ([]RollbackPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RollbackPair
	for i := len(r.captures) - 1; i >= 0; i-- {
		c := r.captures[i]
		if c.WorkflowID != workflowID {
			continue
		}
		undo := ""
		if t, ok := sqlparse.ExtractTarget(c.Statement); ok && t.Action == sqlparse.ActionCreate {
			undo = "DROP TABLE " + t.Object.Name
		}
		out = append(out, RollbackPair{Sequence: c.Sequence, Original: c.Statement, Undo: undo})
	}
	return out, nil
}
