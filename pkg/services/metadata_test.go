package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
)

func TestMetadataService(t *testing.T) {
	e := newFakeEngine()
	e.db.databases = []string{"app", "audit"}
	e.db.tables["app"] = []models.Table{{SchemaName: "app", Name: "users", Type: "TABLE"}}

	s := NewMetadataService(nil, zerolog.New(zerolog.NewTestWriter(t)), nil)
	ctx := context.Background()

	dbs, err := s.GetDatabases(ctx, e, testInstance)
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "audit"}, dbs)

	tables, err := s.GetTables(ctx, e, testInstance, "")
	require.NoError(t, err)
	assert.Equal(t, e.db.tables["app"], tables)
	assert.Equal(t, 2, e.db.connects)

	// served from the cache
	_, err = s.GetDatabases(ctx, e, testInstance)
	require.NoError(t, err)
	_, err = s.GetTables(ctx, e, testInstance, "app")
	require.NoError(t, err)
	assert.Equal(t, 2, e.db.connects)

	s.Invalidate(ctx)
	_, err = s.GetDatabases(ctx, e, testInstance)
	require.NoError(t, err)
	assert.Equal(t, 3, e.db.connects)

	stats := s.CacheStats()
	assert.Equal(t, uint64(1), stats["databases"].Hits)
	assert.Equal(t, uint64(2), stats["databases"].Misses)
	assert.Equal(t, uint64(1), stats["tables"].Hits)
	assert.Equal(t, uint64(1), stats["tables"].Misses)
}

func TestMetadataServiceErrors(t *testing.T) {
	s := NewMetadataService(nil, zerolog.New(zerolog.NewTestWriter(t)), nil)
	ctx := context.Background()

	e := newFakeEngine()
	e.plain = true
	_, err := s.GetDatabases(ctx, e, testInstance)
	assert.True(t, gerrors.HasCode(err, gerrors.CodeUnimplemented))
	assert.Equal(t, 1, e.db.closes)

	_, err = s.GetTables(ctx, newFakeEngine(), models.Instance{Name: "bare"}, "")
	assert.True(t, gerrors.HasCode(err, gerrors.CodeInvalidRequest))
}
