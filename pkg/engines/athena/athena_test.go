package athena

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
)

type fakeClient struct {
	states  []types.QueryExecutionState
	reason  string
	pages   []*athena.GetQueryResultsOutput
	started *athena.StartQueryExecutionInput
	polls   int
	tables  map[string]bool
}

func (f *fakeClient) StartQueryExecution(_ context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.started = in
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("q-1")}, nil
}

func (f *fakeClient) GetQueryExecution(context.Context, *athena.GetQueryExecutionInput, ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	state := f.states[min(f.polls, len(f.states)-1)]
	f.polls++
	return &athena.GetQueryExecutionOutput{QueryExecution: &types.QueryExecution{
		Status: &types.QueryExecutionStatus{State: state, StateChangeReason: aws.String(f.reason)},
	}}, nil
}

func (f *fakeClient) GetQueryResults(_ context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	if in.NextToken == nil {
		return f.pages[0], nil
	}
	return f.pages[1], nil
}

func (f *fakeClient) StopQueryExecution(context.Context, *athena.StopQueryExecutionInput, ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	return &athena.StopQueryExecutionOutput{}, nil
}

func (f *fakeClient) GetTableMetadata(_ context.Context, in *athena.GetTableMetadataInput, _ ...func(*athena.Options)) (*athena.GetTableMetadataOutput, error) {
	if f.tables[aws.ToString(in.DatabaseName)+"."+aws.ToString(in.TableName)] {
		return &athena.GetTableMetadataOutput{}, nil
	}
	return nil, &types.MetadataException{Message: aws.String("not found")}
}

func (f *fakeClient) ListDatabases(context.Context, *athena.ListDatabasesInput, ...func(*athena.Options)) (*athena.ListDatabasesOutput, error) {
	return &athena.ListDatabasesOutput{DatabaseList: []types.Database{{Name: aws.String("logs")}}}, nil
}

func (f *fakeClient) ListTableMetadata(context.Context, *athena.ListTableMetadataInput, ...func(*athena.Options)) (*athena.ListTableMetadataOutput, error) {
	return &athena.ListTableMetadataOutput{TableMetadataList: []types.TableMetadata{
		{Name: aws.String("events"), TableType: aws.String("EXTERNAL_TABLE")},
	}}, nil
}

func row(values ...string) types.Row {
	r := types.Row{}
	for _, v := range values {
		r.Data = append(r.Data, types.Datum{VarCharValue: aws.String(v)})
	}
	return r
}

func connect(t *testing.T, f *fakeClient) engines.Session {
	t.Helper()
	e := NewEngine(engines.Deps{Logger: zerolog.New(zerolog.NewTestWriter(t))},
		WithClientFunc(func(context.Context, models.Instance) (Client, error) { return f, nil }),
		WithWaitInterval(time.Millisecond))
	s, err := e.Connect(context.Background(), models.Instance{
		Name:          "athena",
		DefaultSchema: "logs",
		Options:       map[string]string{"workgroup": "analytics"},
	}, "")
	require.NoError(t, err)
	return s
}

func TestQuery_PaginatesAndSkipsHeader(t *testing.T) {
	f := &fakeClient{
		states: []types.QueryExecutionState{types.QueryExecutionStateQueued, types.QueryExecutionStateRunning, types.QueryExecutionStateSucceeded},
		pages: []*athena.GetQueryResultsOutput{
			{
				NextToken: aws.String("p2"),
				ResultSet: &types.ResultSet{
					ResultSetMetadata: &types.ResultSetMetadata{ColumnInfo: []types.ColumnInfo{
						{Name: aws.String("id"), Type: aws.String("integer")},
						{Name: aws.String("email"), Type: aws.String("varchar")},
					}},
					Rows: []types.Row{row("id", "email"), row("1", "a@x.io")},
				},
			},
			{ResultSet: &types.ResultSet{Rows: []types.Row{row("2", "b@x.io"), row("3", "c@x.io")}}},
		},
	}
	s := connect(t, f)

	rs, err := s.Query(context.Background(), "SELECT id, email FROM events", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email"}, rs.ColumnList)
	assert.Equal(t, [][]any{{"1", "a@x.io"}, {"2", "b@x.io"}}, rs.Rows)
	assert.True(t, rs.Truncated)
	assert.Equal(t, 3, f.polls)
	assert.Equal(t, "analytics", aws.ToString(f.started.WorkGroup))
	assert.Equal(t, "logs", aws.ToString(f.started.QueryExecutionContext.Database))
}

func TestExecute_Failure(t *testing.T) {
	f := &fakeClient{
		states: []types.QueryExecutionState{types.QueryExecutionStateFailed},
		reason: "SYNTAX_ERROR: line 1:8",
	}
	s := connect(t, f)

	_, err := s.Execute(context.Background(), "INSERT INTO x SELEC 1")
	require.Error(t, err)
	assert.Equal(t, gerrors.CodeStatementExecutionFailed, gerrors.GetCode(err))
	assert.Contains(t, err.Error(), "SYNTAX_ERROR")
}

func TestExecute_UpdateCount(t *testing.T) {
	f := &fakeClient{
		states: []types.QueryExecutionState{types.QueryExecutionStateSucceeded},
		pages:  []*athena.GetQueryResultsOutput{{UpdateCount: aws.Int64(12)}},
	}
	n, err := connect(t, f).Execute(context.Background(), "DELETE FROM events WHERE day < '2024-01-01'")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestInspector(t *testing.T) {
	f := &fakeClient{tables: map[string]bool{"logs.events": true}}
	insp := connect(t, f).(engines.Inspector)
	ctx := context.Background()

	ok, err := insp.ObjectExists(ctx, models.ObjectRef{Name: "events"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = insp.ObjectExists(ctx, models.ObjectRef{Schema: "logs", Name: "ghost"})
	require.NoError(t, err)
	assert.False(t, ok)

	dbs, err := insp.GetDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"logs"}, dbs)

	tables, err := insp.GetTables(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []models.Table{{SchemaName: "logs", Name: "events", Type: "EXTERNAL_TABLE"}}, tables)
}

func TestQuery_Cancelled(t *testing.T) {
	f := &fakeClient{states: []types.QueryExecutionState{types.QueryExecutionStateRunning}}
	s := connect(t, f)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Query(ctx, "SELECT 1", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gerrors.New(gerrors.CodeDeadlineExceeded, "")))
}
