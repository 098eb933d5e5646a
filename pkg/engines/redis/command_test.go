package redis

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		line     string
		expected []string
	}{
		{"GET key", []string{"GET", "key"}},
		{`SET k "hello world"`, []string{"SET", "k", "hello world"}},
		{`SET k 'it''s'`, []string{"SET", "k", "its"}},
		{`SET k "a\"b\n"`, []string{"SET", "k", "a\"b\n"}},
		{`SET k ""`, []string{"SET", "k", ""}},
		{"  HGETALL   h  ", []string{"HGETALL", "h"}},
	}
	for _, tt := range tests {
		args, err := ParseArgs(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.expected, args, tt.line)
	}

	_, err := ParseArgs(`SET k "open`)
	assert.Error(t, err)
}

func TestSplitCommands(t *testing.T) {
	cmds := SplitCommands("# seed\nSET a 1;\n\n  DEL b  \n")
	assert.Equal(t, []string{"SET a 1", "DEL b"}, cmds)
}

func TestQueryCheck(t *testing.T) {
	e := New(engines.Deps{Logger: zerolog.Nop()}).(engines.QueryChecker)

	assert.False(t, e.QueryCheck("get user:1").BadQuery)
	res := e.QueryCheck("DEL user:1")
	assert.True(t, res.BadQuery)
	assert.Contains(t, res.Msg, "DEL")
	assert.Equal(t, "no valid statement", e.QueryCheck("# only a comment").Msg)
}

func TestExecuteCheck(t *testing.T) {
	e := New(engines.Deps{Logger: zerolog.Nop()}).(engines.ExecuteChecker)

	set := e.ExecuteCheck(context.Background(), models.Instance{}, "0", "SET a 1\nGET a\nFLUSHALL\nSET b \"x")
	require.Len(t, set.Rows, 4)
	assert.Equal(t, models.ErrLevelOK, set.Rows[0].ErrLevel)
	assert.Equal(t, "a", set.Rows[0].ObjectName)
	assert.Equal(t, models.ErrLevelWarning, set.Rows[1].ErrLevel)
	assert.Equal(t, models.ErrLevelError, set.Rows[2].ErrLevel)
	assert.Equal(t, models.ErrLevelError, set.Rows[3].ErrLevel)
	assert.Equal(t, 1, set.WarningCount)
	assert.Equal(t, 2, set.ErrorCount)
	assert.Equal(t, models.SyntaxTypeDML, set.SyntaxType)
	for i, r := range set.Rows {
		assert.Equal(t, i+1, r.ID)
	}
}

func TestFillResultSet(t *testing.T) {
	rs := models.NewResultSet("HGETALL h")
	fillResultSet(rs, map[any]any{"b": "2", "a": "1"})
	assert.Equal(t, []string{"field", "value"}, rs.ColumnList)
	assert.Equal(t, [][]any{{"a", "1"}, {"b", "2"}}, rs.Rows)

	rs = models.NewResultSet("LRANGE l 0 -1")
	fillResultSet(rs, []any{"x", []any{"y", int64(1)}})
	assert.Equal(t, [][]any{{"x"}, {`["y",1]`}}, rs.Rows)

	rs = models.NewResultSet("GET k")
	fillResultSet(rs, nil)
	assert.Equal(t, [][]any{{nil}}, rs.Rows)
	assert.Equal(t, int64(1), rs.AffectedRows)
}

func TestConnectRejectsBadIndex(t *testing.T) {
	e := New(engines.Deps{Logger: zerolog.Nop()})
	_, err := e.Connect(context.Background(), models.Instance{Name: "r", Host: "localhost"}, "users")
	assert.Error(t, err)
}
