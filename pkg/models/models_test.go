package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewSet_AppendAssignsContiguousIDs(t *testing.T) {
	rs := NewReviewSet("select 1; select 2; select 3")
	for i := 0; i < 3; i++ {
		rs.Append(&ReviewResult{SQL: fmt.Sprintf("select %d", i+1)})
	}

	require.Len(t, rs.Rows, 3)
	for i, r := range rs.Rows {
		assert.Equal(t, i+1, r.ID)
	}
}

func TestReviewSet_Recount(t *testing.T) {
	rs := NewReviewSet("")
	rs.Append(&ReviewResult{ErrLevel: ErrLevelOK})
	rs.Append(&ReviewResult{ErrLevel: ErrLevelWarning})
	rs.Append(&ReviewResult{ErrLevel: ErrLevelError})
	rs.Append(&ReviewResult{ErrLevel: ErrLevelError})

	rs.WarningCount = 99
	rs.Recount()

	assert.Equal(t, 1, rs.WarningCount)
	assert.Equal(t, 2, rs.ErrorCount)
	assert.True(t, rs.Failed())
}

func TestReviewResult_AddMessage(t *testing.T) {
	r := &ReviewResult{}
	r.AddMessage(ErrLevelWarning, "first")
	r.AddMessage(ErrLevelOK, "second")

	assert.Equal(t, ErrLevelWarning, r.ErrLevel)
	assert.Equal(t, "first; second", r.ErrorMessage)
}

func TestResultSet_Fail(t *testing.T) {
	rs := NewResultSet("select 1")
	rs.ColumnList = []string{"1"}
	rs.Rows = [][]any{{1}}
	rs.AffectedRows = 1

	rs.Fail(fmt.Errorf("boom"))

	assert.True(t, rs.Failed())
	assert.Empty(t, rs.Rows)
	assert.Zero(t, rs.AffectedRows)
}

func TestResultSet_Limit(t *testing.T) {
	rs := NewResultSet("select id from t")
	rs.Rows = [][]any{{1}, {2}, {3}}

	rs.Limit(2)
	assert.Len(t, rs.Rows, 2)
	assert.True(t, rs.Truncated)
	assert.EqualValues(t, 2, rs.AffectedRows)

	rs.Limit(0)
	assert.Len(t, rs.Rows, 2)
}

func TestObjectRef_Key(t *testing.T) {
	a := ObjectRef{Schema: "App", Name: "Users"}
	b := ObjectRef{Schema: "app", Name: "USERS"}
	assert.Equal(t, a.Key(), b.Key())
}
