package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
)

const sampleConfig = `
log_level: debug
audit:
  critical_ddl_regex: '^\s*(DROP|TRUNCATE)\b'
  max_affected_rows: 500
query:
  default_limit: 50
masking:
  brute_fallback: true
  cache_ttl: 30s
instances:
  - name: orders
    db_type: mysql
    host: db.internal
    port: 3306
    user: app
    password: secret
    default_schema: shop
    options:
      charset: utf8mb4
  - name: local
    db_type: duckdb
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, `^\s*(DROP|TRUNCATE)\b`, cfg.Audit.CriticalDDLRegex)
	assert.Equal(t, int64(500), cfg.Audit.MaxAffectedRows)
	assert.True(t, cfg.Audit.ExplainEnabled, "default kept")
	assert.Equal(t, 50, cfg.Query.DefaultLimit)
	assert.Equal(t, 10000, cfg.Query.MaxLimit)
	assert.True(t, cfg.Masking.BruteFallback)
	assert.Equal(t, 30*time.Second, cfg.Masking.CacheTTL)
	require.Len(t, cfg.Instances, 2)

	inst, err := cfg.Instance("orders")
	require.NoError(t, err)
	assert.Equal(t, models.Instance{
		Name:          "orders",
		DBType:        "mysql",
		Host:          "db.internal",
		Port:          3306,
		User:          "app",
		Password:      "secret",
		DefaultSchema: "shop",
		Options:       map[string]string{"charset": "utf8mb4"},
	}, inst)

	_, err = cfg.Instance("missing")
	assert.True(t, gerrors.IsNotFound(err))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SQLGATE_AUDIT_MAX_AFFECTED_ROWS", "42")
	t.Setenv("SQLGATE_LOGGING_TRACE_SQL", "true")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Audit.MaxAffectedRows)
	assert.True(t, cfg.Logging.TraceSQL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad regex", func(c *Config) { c.Audit.CriticalDDLRegex = "(" }, true},
		{"limit above max", func(c *Config) { c.Query.DefaultLimit = 20; c.Query.MaxLimit = 10 }, true},
		{"backup without path", func(c *Config) { c.Backup.Enabled = true; c.Backup.StorePath = "" }, true},
		{"nameless instance", func(c *Config) { c.Instances = []models.Instance{{DBType: "mysql"}} }, true},
		{"untyped instance", func(c *Config) { c.Instances = []models.Instance{{Name: "a"}} }, true},
		{"duplicate instance", func(c *Config) {
			c.Instances = []models.Instance{{Name: "a", DBType: "mysql"}, {Name: "a", DBType: "pgsql"}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(1000), cfg.Audit.MaxAffectedRows)
	assert.Equal(t, 100, cfg.Query.DefaultLimit)
}

func TestProvider(t *testing.T) {
	v := viper.New()
	Bind(v)
	v.Set(KeyCriticalDDLRegex, "^DROP")

	p := NewProvider(v)
	assert.Equal(t, "^DROP", p.GetConfig(KeyCriticalDDLRegex))
	assert.Equal(t, "1000", p.GetConfig(KeyMaxAffectedRows))
	assert.Equal(t, "", p.GetConfig("no.such.key"))

	s := FromConfig(DefaultConfig())
	assert.Equal(t, "100", s.GetConfig(KeyDefaultLimit))
	assert.Equal(t, "false", s.GetConfig(KeyBruteFallback))
}
