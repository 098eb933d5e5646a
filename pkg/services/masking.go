package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/config"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/masking"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/repositories"
)

// Masker applies the masking configured for an instance to query results.
type Masker struct {
	repo    repositories.MaskingRepository
	cfg     config.Getter
	logger  zerolog.Logger
	metrics metrics.Collector
}

// NewMasker creates a masker reading rules from repo.
func NewMasker(repo repositories.MaskingRepository, cfg config.Getter, logger zerolog.Logger, m metrics.Collector) *Masker {
	if m == nil {
		m = metrics.NewNoOpCollector()
	}
	return &Masker{
		repo:    repo,
		cfg:     cfg,
		logger:  logger.With().Str("component", "masker").Logger(),
		metrics: m,
	}
}

// Mask masks rs in place. Column scoped masking is used whenever rs.FullSQL
// parses; otherwise every rule of the instance is applied to every cell when
// the brute fallback is enabled, and an error is returned when it is not.
func (m *Masker) Mask(ctx context.Context, inst models.Instance, rs *models.ResultSet) (*models.ResultSet, error) {
	if rs == nil || rs.Failed() || !m.enabled(config.KeyMaskingEnabled, true) {
		return rs, nil
	}

	columns, err := m.repo.ListMaskingColumns(ctx, inst.Name)
	if err != nil {
		m.metrics.IncrementCounter(metrics.MaskingFailuresTotal, "reason", "repository")
		return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to load masking columns")
	}
	if !anyActive(columns) {
		return rs, nil
	}
	rules, err := m.repo.ListMaskingRules(ctx)
	if err != nil {
		m.metrics.IncrementCounter(metrics.MaskingFailuresTotal, "reason", "repository")
		return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to load masking rules")
	}

	out, err := m.precise(inst, rs, columns, rules)
	if err == nil {
		m.metrics.AddCounter(metrics.MaskingCellsTotal, float64(out.MaskedCells))
		return out, nil
	}
	if !gerrors.HasCode(err, gerrors.CodeUnsupportedQueryShape) {
		return nil, err
	}

	m.metrics.IncrementCounter(metrics.MaskingFailuresTotal, "reason", "unsupported_shape")
	if !m.enabled(config.KeyBruteFallback, false) {
		return nil, err
	}

	m.logger.Warn().
		Err(err).
		Str("instance", inst.Name).
		Str("sql", truncate(rs.FullSQL)).
		Msg("Falling back to brute masking")
	out = masking.BruteMask(rs, rulesFor(columns, rules))
	m.metrics.AddCounter(metrics.MaskingCellsTotal, float64(out.MaskedCells))
	return out, nil
}

func (m *Masker) precise(inst models.Instance, rs *models.ResultSet, columns []models.MaskingColumn, rules []models.MaskingRule) (*models.ResultSet, error) {
	parsed, err := masking.ParseQuery(rs.FullSQL)
	if err != nil {
		return nil, err
	}
	return masking.Mask(inst, rs, parsed, columns, rules)
}

func (m *Masker) enabled(key string, def bool) bool {
	return configBool(m.cfg, key, def)
}

func anyActive(columns []models.MaskingColumn) bool {
	for _, c := range columns {
		if c.Active {
			return true
		}
	}
	return false
}

// rulesFor keeps the rules referenced by an active column of the instance.
func rulesFor(columns []models.MaskingColumn, rules []models.MaskingRule) []models.MaskingRule {
	used := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c.Active {
			used[c.RuleType] = true
		}
	}
	var out []models.MaskingRule
	for _, r := range rules {
		if used[r.RuleType] {
			out = append(out, r)
		}
	}
	return out
}
