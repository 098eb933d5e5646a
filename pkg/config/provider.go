package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Getter reads one configuration value by dotted key. Services read
// tunables through it at call time so a reloaded file takes effect without
// rebuilding them.
type Getter interface {
	GetConfig(key string) string
}

// Provider serves configuration values from viper.
type Provider struct {
	v *viper.Viper
}

// NewProvider wraps v.
func NewProvider(v *viper.Viper) *Provider {
	return &Provider{v: v}
}

// GetConfig returns the value at key as a string, "" when unset.
func (p *Provider) GetConfig(key string) string {
	return p.v.GetString(key)
}

// Static is a fixed key/value Getter.
type Static map[string]string

// GetConfig returns the value at key.
func (s Static) GetConfig(key string) string {
	return s[key]
}

// Keys read through a Getter.
const (
	KeyCriticalDDLRegex = "audit.critical_ddl_regex"
	KeyMaxAffectedRows  = "audit.max_affected_rows"
	KeyExplainEnabled   = "audit.explain_enabled"
	KeyCheckObjects     = "audit.check_objects"
	KeyDefaultLimit     = "query.default_limit"
	KeyMaxLimit         = "query.max_limit"
	KeyMaskingEnabled   = "masking.enabled"
	KeyBruteFallback    = "masking.brute_fallback"
)

// FromConfig exposes cfg's tunables as a Static getter.
func FromConfig(cfg *Config) Static {
	return Static{
		KeyCriticalDDLRegex: cfg.Audit.CriticalDDLRegex,
		KeyMaxAffectedRows:  fmt.Sprint(cfg.Audit.MaxAffectedRows),
		KeyExplainEnabled:   fmt.Sprint(cfg.Audit.ExplainEnabled),
		KeyCheckObjects:     fmt.Sprint(cfg.Audit.CheckObjects),
		KeyDefaultLimit:     fmt.Sprint(cfg.Query.DefaultLimit),
		KeyMaxLimit:         fmt.Sprint(cfg.Query.MaxLimit),
		KeyMaskingEnabled:   fmt.Sprint(cfg.Masking.Enabled),
		KeyBruteFallback:    fmt.Sprint(cfg.Masking.BruteFallback),
	}
}
