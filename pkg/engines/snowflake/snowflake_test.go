package snowflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/models"
)

func TestDSN(t *testing.T) {
	inst := models.Instance{
		Name:     "sf",
		Host:     "xy12345",
		User:     "loader",
		Password: "pw",
		Options:  map[string]string{"database": "ANALYTICS", "warehouse": "WH"},
	}
	dsn, err := DSN(inst, "")
	require.NoError(t, err)
	assert.Contains(t, dsn, "loader:pw@")
	assert.Contains(t, dsn, "ANALYTICS")
	assert.Contains(t, dsn, "warehouse=WH")

	_, err = DSN(models.Instance{Name: "none"}, "")
	assert.Error(t, err)
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "USE SCHEMA PUBLIC", Config().UseSchema("PUBLIC"))
	assert.Equal(t, `USE SCHEMA "odd name"`, Config().UseSchema("odd name"))
	assert.Equal(t, "ORDERS", fold("orders"))
}
