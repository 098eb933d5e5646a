package engines

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

type stubEngine struct{ deps Deps }

func (stubEngine) Type() string                     { return "stub" }
func (stubEngine) Dialect() sqlparse.Dialect        { return sqlparse.DialectGeneric }
func (stubEngine) ReadOnlyVerbs() []string          { return DefaultReadOnlyVerbs }
func (stubEngine) FilterSQL(s string, _ int) string { return s }
func (stubEngine) Connect(context.Context, models.Instance, string) (Session, error) {
	return nil, gerrors.ErrNotImplemented
}

type splittingEngine struct{ stubEngine }

func (splittingEngine) SplitItems(script, _ string) ([]models.SQLItem, error) {
	return []models.SQLItem{{Statement: script, StmtType: models.StmtTypeSQL}}, nil
}

func TestRegistry(t *testing.T) {
	Register("stub-test", func(d Deps) Engine { return stubEngine{deps: d} }, "STUB-ALIAS")

	e, err := New("Stub-Test", Deps{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "stub", e.Type())

	stub := e.(stubEngine)
	assert.NotNil(t, stub.deps.Pool, "defaults are filled in")
	assert.NotNil(t, stub.deps.Metrics)

	_, err = New("stub-alias", Deps{})
	require.NoError(t, err)

	assert.Contains(t, Types(), "stub-test")
	assert.Contains(t, Types(), "stub-alias")

	assert.Panics(t, func() {
		Register("stub-test", func(Deps) Engine { return stubEngine{} })
	})
}

func TestNewUnknown(t *testing.T) {
	_, err := New("nosuchdb", Deps{})
	require.Error(t, err)
	assert.True(t, gerrors.IsNotFound(err))
}

func TestSplitItemsDispatch(t *testing.T) {
	items, err := SplitItems(stubEngine{}, "SELECT 1; SELECT 2", "")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = SplitItems(splittingEngine{}, "SELECT 1; SELECT 2", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "SELECT 1; SELECT 2", items[0].Statement)
}
