package duckdb

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
)

func newSession(t *testing.T, name string) engines.Session {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	p := pool.NewManager(pool.Config{}, logger)
	t.Cleanup(func() { _ = p.Close() })

	e, err := engines.New("duckdb", engines.Deps{Pool: p, Logger: logger, TraceSQL: true})
	require.NoError(t, err)

	inst := models.Instance{Name: name, DBType: "duckdb", DefaultSchema: "main"}
	s, err := e.Connect(context.Background(), inst, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_ExecuteAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, "exec")

	_, err := s.Execute(ctx, "CREATE TABLE users (id INTEGER, email VARCHAR)")
	require.NoError(t, err)
	n, err := s.Execute(ctx, "INSERT INTO users VALUES (1, 'a@x.io'), (2, 'b@x.io'), (3, 'c@x.io')")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rs, err := s.Query(ctx, "SELECT id, email FROM users ORDER BY id", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email"}, rs.ColumnList)
	require.Len(t, rs.Rows, 2)
	assert.True(t, rs.Truncated)
	assert.Equal(t, int64(2), rs.AffectedRows)
	assert.Equal(t, int64(1), engines.ToInt64(rs.Rows[0][0]))
	assert.Equal(t, "a@x.io", rs.Rows[0][1])

	_, err = s.Execute(ctx, "INSERT INTO missing VALUES (1)")
	require.Error(t, err)
	assert.Equal(t, gerrors.CodeStatementExecutionFailed, gerrors.GetCode(err))
}

func TestSession_Explain(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, "explain")
	_, err := s.Execute(ctx, "CREATE TABLE t AS SELECT range AS id FROM range(50)")
	require.NoError(t, err)

	planner, ok := s.(engines.Planner)
	require.True(t, ok)
	assert.True(t, planner.Explains("UPDATE t SET id = id + 1"))
	assert.False(t, planner.Explains("CREATE TABLE x (id INTEGER)"))

	res, err := planner.Explain(ctx, "DELETE FROM t WHERE id > 10")
	require.NoError(t, err)
	assert.Equal(t, "duckdb", res.Backend)
	assert.GreaterOrEqual(t, res.EstimatedRows, int64(0))

	_, err = planner.Explain(ctx, "DELETE FROM nope WHERE id > 10")
	require.Error(t, err)
}

func TestSession_Inspector(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, "inspect")
	_, err := s.Execute(ctx, "CREATE TABLE orders (id INTEGER)")
	require.NoError(t, err)

	insp, ok := s.(engines.Inspector)
	require.True(t, ok)

	exists, err := insp.ObjectExists(ctx, models.ObjectRef{Name: "orders"})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = insp.ObjectExists(ctx, models.ObjectRef{Schema: "main", Name: "ghost"})
	require.NoError(t, err)
	assert.False(t, exists)

	dbs, err := insp.GetDatabases(ctx)
	require.NoError(t, err)
	assert.Contains(t, dbs, "main")

	tables, err := insp.GetTables(ctx, "")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)
}

func TestDSN(t *testing.T) {
	dsn, err := DSN(models.Instance{Name: "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, "", dsn)

	dsn, err = DSN(models.Instance{Options: map[string]string{"path": "/data/a.db", "access_mode": "read_only"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "/data/a.db?access_mode=read_only", dsn)
}

func TestDSN_MotherDuck(t *testing.T) {
	tests := []struct {
		name string
		inst models.Instance
		want string
	}{
		{name: "short form", inst: models.Instance{Password: "tok", Options: map[string]string{"path": "md:sales"}},
			want: "md:sales?motherduck_token=tok"},
		{name: "url form", inst: models.Instance{Password: "tok", Options: map[string]string{"path": "motherduck://sales"}},
			want: "md:sales?motherduck_token=tok"},
		{name: "token in path wins", inst: models.Instance{Password: "tok", Options: map[string]string{"path": "md:sales?motherduck_token=own"}},
			want: "md:sales?motherduck_token=own"},
		{name: "no token", inst: models.Instance{Options: map[string]string{"path": "md:"}},
			want: "md:"},
		{name: "settings appended", inst: models.Instance{Password: "tok", Options: map[string]string{"path": "md:sales", "threads": "4"}},
			want: "md:sales?motherduck_token=tok&threads=4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := DSN(tt.inst, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestFilterSQL(t *testing.T) {
	e := New(engines.Deps{Logger: zerolog.Nop()})
	assert.Equal(t, "SELECT 1 LIMIT 5", e.FilterSQL("SELECT 1;", 5))
}
