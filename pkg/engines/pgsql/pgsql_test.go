package pgsql

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/models"
)

func TestDSN(t *testing.T) {
	dsn, err := DSN(models.Instance{Name: "pg", Host: "pg.internal", User: "app", Password: "p@ss"}, "public")
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "pg.internal:5432", u.Host)
	assert.Equal(t, "/postgres", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "prefer", u.Query().Get("sslmode"))
}

func TestConfig(t *testing.T) {
	cfg := Config()
	assert.Equal(t, `SET search_path TO "Sales"`, cfg.UseSchema("Sales"))
	assert.Equal(t, "orders", cfg.FoldIdent("ORDERS"))
}
