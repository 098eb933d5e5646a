// Package config provides the gateway configuration and its viper loader.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
)

// EnvPrefix is the prefix of environment overrides, e.g. SQLGATE_LOG_LEVEL.
const EnvPrefix = "SQLGATE"

// Config represents the gateway configuration.
type Config struct {
	LogLevel     string        `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout" mapstructure:"query_timeout"`

	Logging        LoggingConfig     `yaml:"logging" json:"logging" mapstructure:"logging"`
	Audit          AuditConfig       `yaml:"audit" json:"audit" mapstructure:"audit"`
	Query          QueryConfig       `yaml:"query" json:"query" mapstructure:"query"`
	Masking        MaskingConfig     `yaml:"masking" json:"masking" mapstructure:"masking"`
	Backup         BackupConfig      `yaml:"backup" json:"backup" mapstructure:"backup"`
	Metrics        MetricsConfig     `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	ConnectionPool pool.Config       `yaml:"connection_pool" json:"connection_pool" mapstructure:"connection_pool"`
	Instances      []models.Instance `yaml:"instances" json:"instances" mapstructure:"instances"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	// TraceSQL logs every statement an engine runs at debug level.
	TraceSQL bool `yaml:"trace_sql" json:"trace_sql" mapstructure:"trace_sql"`
	// Console forces human readable output even when stderr is not a TTY.
	Console bool `yaml:"console" json:"console" mapstructure:"console"`
}

// AuditConfig represents the execute-check configuration.
type AuditConfig struct {
	// CriticalDDLRegex marks statements that stop the audit, e.g.
	// `^\s*(DROP|TRUNCATE)\b`. Empty disables the check.
	CriticalDDLRegex string `yaml:"critical_ddl_regex" json:"critical_ddl_regex" mapstructure:"critical_ddl_regex"`
	MaxAffectedRows  int64  `yaml:"max_affected_rows" json:"max_affected_rows" mapstructure:"max_affected_rows"`
	ExplainEnabled   bool   `yaml:"explain_enabled" json:"explain_enabled" mapstructure:"explain_enabled"`
	CheckObjects     bool   `yaml:"check_objects" json:"check_objects" mapstructure:"check_objects"`
}

// QueryConfig represents the read path configuration.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit" mapstructure:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit" mapstructure:"max_limit"`
}

// MaskingConfig represents data masking configuration.
type MaskingConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	BruteFallback bool          `yaml:"brute_fallback" json:"brute_fallback" mapstructure:"brute_fallback"`
	RulesFile     string        `yaml:"rules_file" json:"rules_file" mapstructure:"rules_file"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl" mapstructure:"cache_ttl"`
}

// BackupConfig represents the backup recorder configuration.
type BackupConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	StorePath string `yaml:"store_path" json:"store_path" mapstructure:"store_path"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address   string `yaml:"address" json:"address" mapstructure:"address"`
	Namespace string `yaml:"namespace" json:"namespace" mapstructure:"namespace"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		QueryTimeout: 5 * time.Minute,
		Audit: AuditConfig{
			CriticalDDLRegex: "",
			MaxAffectedRows:  1000,
			ExplainEnabled:   true,
			CheckObjects:     true,
		},
		Query: QueryConfig{
			DefaultLimit: 100,
			MaxLimit:     10000,
		},
		Masking: MaskingConfig{
			Enabled:       true,
			BruteFallback: false,
			CacheTTL:      time.Minute,
		},
		Backup: BackupConfig{
			Enabled:   false,
			StorePath: "sqlgate-backup.db",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Address:   ":9090",
			Namespace: "sqlgate",
		},
		ConnectionPool: pool.Config{
			MaxOpenConnections:     10,
			MaxIdleConnections:     2,
			ConnMaxLifetime:        30 * time.Minute,
			ConnMaxIdleTime:        10 * time.Minute,
			HealthCheckPeriod:      time.Minute,
			ConnectionTimeout:      10 * time.Second,
			EnableCircuitBreaker:   true,
			EnableSlowQueryLogging: true,
			SlowQueryThreshold:     time.Second,
		},
	}
}

// Validate checks the configuration and fills unset values.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Minute
	}

	if c.Audit.CriticalDDLRegex != "" {
		if _, err := regexp.Compile(c.Audit.CriticalDDLRegex); err != nil {
			return fmt.Errorf("audit.critical_ddl_regex: %w", err)
		}
	}
	if c.Audit.MaxAffectedRows <= 0 {
		c.Audit.MaxAffectedRows = 1000
	}

	if c.Query.MaxLimit <= 0 {
		c.Query.MaxLimit = 10000
	}
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = 100
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit %d exceeds query.max_limit %d", c.Query.DefaultLimit, c.Query.MaxLimit)
	}

	if c.Masking.CacheTTL <= 0 {
		c.Masking.CacheTTL = time.Minute
	}
	if c.Backup.Enabled && c.Backup.StorePath == "" {
		return fmt.Errorf("backup.store_path is required when backup is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instances[%d]: name is required", i)
		}
		if inst.DBType == "" {
			return fmt.Errorf("instance %q: db_type is required", inst.Name)
		}
		if seen[inst.Name] {
			return fmt.Errorf("instance %q is defined twice", inst.Name)
		}
		seen[inst.Name] = true
	}
	return nil
}

// Instance returns the named instance.
func (c *Config) Instance(name string) (models.Instance, error) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst, nil
		}
	}
	return models.Instance{}, gerrors.Newf(gerrors.CodeNotFound, "instance %q is not configured", name)
}

// Bind registers defaults and environment overrides on v. Nested keys map
// to upper-case underscore names: audit.max_affected_rows is read from
// SQLGATE_AUDIT_MAX_AFFECTED_ROWS.
func Bind(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("query_timeout", def.QueryTimeout)
	v.SetDefault("logging.trace_sql", def.Logging.TraceSQL)
	v.SetDefault("logging.console", def.Logging.Console)
	v.SetDefault("audit.critical_ddl_regex", def.Audit.CriticalDDLRegex)
	v.SetDefault("audit.max_affected_rows", def.Audit.MaxAffectedRows)
	v.SetDefault("audit.explain_enabled", def.Audit.ExplainEnabled)
	v.SetDefault("audit.check_objects", def.Audit.CheckObjects)
	v.SetDefault("query.default_limit", def.Query.DefaultLimit)
	v.SetDefault("query.max_limit", def.Query.MaxLimit)
	v.SetDefault("masking.enabled", def.Masking.Enabled)
	v.SetDefault("masking.brute_fallback", def.Masking.BruteFallback)
	v.SetDefault("masking.rules_file", def.Masking.RulesFile)
	v.SetDefault("masking.cache_ttl", def.Masking.CacheTTL)
	v.SetDefault("backup.enabled", def.Backup.Enabled)
	v.SetDefault("backup.store_path", def.Backup.StorePath)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.address", def.Metrics.Address)
	v.SetDefault("metrics.namespace", def.Metrics.Namespace)
	v.SetDefault("connection_pool.max_open_connections", def.ConnectionPool.MaxOpenConnections)
	v.SetDefault("connection_pool.max_idle_connections", def.ConnectionPool.MaxIdleConnections)
	v.SetDefault("connection_pool.conn_max_lifetime", def.ConnectionPool.ConnMaxLifetime)
	v.SetDefault("connection_pool.conn_max_idle_time", def.ConnectionPool.ConnMaxIdleTime)
	v.SetDefault("connection_pool.health_check_period", def.ConnectionPool.HealthCheckPeriod)
	v.SetDefault("connection_pool.connection_timeout", def.ConnectionPool.ConnectionTimeout)
	v.SetDefault("connection_pool.enable_circuit_breaker", def.ConnectionPool.EnableCircuitBreaker)
	v.SetDefault("connection_pool.enable_slow_query_logging", def.ConnectionPool.EnableSlowQueryLogging)
	v.SetDefault("connection_pool.slow_query_threshold", def.ConnectionPool.SlowQueryThreshold)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads the config file named by v (if any) and decodes it over the
// defaults.
func Load(v *viper.Viper) (*Config, error) {
	Bind(v)
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
