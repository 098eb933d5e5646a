package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/models"
)

func TestDSN(t *testing.T) {
	inst := models.Instance{Name: "ch", Host: "ch.internal", User: "default", Password: "pw"}
	dsn, err := DSN(inst, "events")
	require.NoError(t, err)
	assert.Equal(t, "clickhouse://default:pw@ch.internal:9000/events?dial_timeout=10s", dsn)

	dsn, err = DSN(inst, "")
	require.NoError(t, err)
	assert.Contains(t, dsn, "/default?")

	_, err = DSN(models.Instance{Name: "nohost"}, "")
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	cfg := Config()
	assert.True(t, cfg.SchemaInDSN)
	assert.Nil(t, cfg.Explain)
	q, args := cfg.TablesQuery("events")
	assert.Contains(t, q, "system.tables")
	assert.Equal(t, []any{"events"}, args)
}
