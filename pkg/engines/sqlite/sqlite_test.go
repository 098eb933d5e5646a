package sqlite

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
)

func TestSession(t *testing.T) {
	ctx := context.Background()
	e, err := engines.New("sqlite3", engines.Deps{Logger: zerolog.New(zerolog.NewTestWriter(t))})
	require.NoError(t, err)

	s, err := e.Connect(ctx, models.Instance{Name: "sqlite-test"}, "")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Execute(ctx, "CREATE TABLE accounts (id INTEGER PRIMARY KEY, phone TEXT)")
	require.NoError(t, err)
	n, err := s.Execute(ctx, "INSERT INTO accounts (phone) VALUES ('13800001111'), ('13900002222')")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rs, err := s.Query(ctx, e.FilterSQL("SELECT phone FROM accounts ORDER BY id", 1), 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT phone FROM accounts ORDER BY id LIMIT 1", rs.FullSQL)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "13800001111", rs.Rows[0][0])

	insp := s.(engines.Inspector)
	ok, err := insp.ObjectExists(ctx, models.ObjectRef{Name: "ACCOUNTS"})
	require.NoError(t, err)
	assert.True(t, ok)

	tables, err := insp.GetTables(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []models.Table{{SchemaName: "main", Name: "accounts", Type: "table"}}, tables)

	planner := s.(engines.Planner)
	_, err = planner.Explain(ctx, "DELETE FROM accounts WHERE id = 1")
	require.NoError(t, err)
	_, err = planner.Explain(ctx, "DELETE FROM nowhere WHERE id = 1")
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	dsn, err := DSN(models.Instance{Name: "a b"}, "")
	require.NoError(t, err)
	assert.Equal(t, "file:sqlgate_a%20b?_busy_timeout=5000&cache=shared&mode=memory", dsn)

	dsn, err = DSN(models.Instance{Options: map[string]string{"path": "/tmp/x.db", "read_only": "true"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "file:/tmp/x.db?_busy_timeout=5000&mode=ro", dsn)
}
