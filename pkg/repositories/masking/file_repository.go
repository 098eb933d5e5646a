// Package masking provides masking configuration repositories.
package masking

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/repositories"
)

// document is the on-disk layout of a rules file.
type document struct {
	Rules   []models.MaskingRule `yaml:"rules"`
	Columns []columnEntry        `yaml:"columns"`
}

// columnEntry defaults Active to true when the key is omitted.
type columnEntry struct {
	RuleType    string `yaml:"rule_type"`
	Active      *bool  `yaml:"active"`
	Instance    string `yaml:"instance"`
	TableSchema string `yaml:"table_schema"`
	TableName   string `yaml:"table_name"`
	ColumnName  string `yaml:"column_name"`
	Position    int    `yaml:"position"`
}

// FileRepository reads masking configuration from a YAML file, reloading it
// when the file's modification time changes.
type FileRepository struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	modTime time.Time
	rules   []models.MaskingRule
	columns []models.MaskingColumn
}

var _ repositories.MaskingRepository = (*FileRepository)(nil)

// NewFileRepository loads path.
func NewFileRepository(path string, logger zerolog.Logger) (*FileRepository, error) {
	r := &FileRepository{
		path:   path,
		logger: logger.With().Str("component", "masking_repository").Str("path", path).Logger(),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// ListMaskingRules returns every rule in the file.
func (r *FileRepository) ListMaskingRules(ctx context.Context) ([]models.MaskingRule, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.MaskingRule(nil), r.rules...), nil
}

// ListMaskingColumns returns the columns configured for instance.
func (r *FileRepository) ListMaskingColumns(ctx context.Context, instance string) ([]models.MaskingColumn, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.MaskingColumn
	for _, c := range r.columns {
		if c.InstanceName == instance {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *FileRepository) refresh() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return gerrors.Wrap(err, gerrors.CodeInternal, "masking rules file unavailable")
	}
	r.mu.RLock()
	same := info.ModTime().Equal(r.modTime)
	r.mu.RUnlock()
	if same {
		return nil
	}
	return r.reload()
}

func (r *FileRepository) reload() error {
	info, err := os.Stat(r.path)
	if err != nil {
		return gerrors.Wrap(err, gerrors.CodeInternal, "masking rules file unavailable")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return gerrors.Wrap(err, gerrors.CodeInternal, "failed to read masking rules file")
	}

	rules, columns, err := Parse(data)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if re := regexp.MustCompile(rule.RuleRegex); rule.HideGroup > re.NumSubexp() {
			r.logger.Warn().
				Str("rule_type", rule.RuleType).
				Int("hide_group", rule.HideGroup).
				Int("groups", re.NumSubexp()).
				Msg("Hide group out of range, values will be left unmasked")
		}
	}

	r.mu.Lock()
	r.rules, r.columns, r.modTime = rules, columns, info.ModTime()
	r.mu.Unlock()

	r.logger.Info().Int("rules", len(rules)).Int("columns", len(columns)).Msg("Masking rules loaded")
	return nil
}

// Parse decodes and validates a rules document.
func Parse(data []byte) ([]models.MaskingRule, []models.MaskingColumn, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, gerrors.Wrap(err, gerrors.CodeInvalidRequest, "invalid masking rules file")
	}

	seen := make(map[string]bool, len(doc.Rules))
	for _, rule := range doc.Rules {
		if rule.RuleType == "" {
			return nil, nil, gerrors.New(gerrors.CodeInvalidRequest, "masking rule without rule_type")
		}
		if seen[rule.RuleType] {
			return nil, nil, gerrors.Newf(gerrors.CodeInvalidRequest, "duplicate masking rule %q", rule.RuleType)
		}
		seen[rule.RuleType] = true
		if _, err := regexp.Compile(rule.RuleRegex); err != nil {
			return nil, nil, gerrors.Wrapf(err, gerrors.CodeInvalidRequest, "masking rule %q has an invalid regex", rule.RuleType)
		}
		if rule.HideGroup < 1 {
			return nil, nil, gerrors.Newf(gerrors.CodeInvalidRequest, "masking rule %q: hide_group must be at least 1", rule.RuleType)
		}
	}

	columns := make([]models.MaskingColumn, 0, len(doc.Columns))
	for _, entry := range doc.Columns {
		c := models.MaskingColumn{
			RuleType:     entry.RuleType,
			Active:       entry.Active == nil || *entry.Active,
			InstanceName: entry.Instance,
			TableSchema:  entry.TableSchema,
			TableName:    entry.TableName,
			ColumnName:   entry.ColumnName,
			Position:     entry.Position,
		}
		if c.InstanceName == "" || c.TableName == "" || c.ColumnName == "" {
			return nil, nil, gerrors.New(gerrors.CodeInvalidRequest, "masking column needs instance, table_name and column_name")
		}
		if !seen[c.RuleType] {
			return nil, nil, gerrors.Newf(gerrors.CodeInvalidRequest,
				"masking column %s.%s references unknown rule %q", c.TableName, c.ColumnName, c.RuleType)
		}
		columns = append(columns, c)
	}
	return doc.Rules, columns, nil
}
