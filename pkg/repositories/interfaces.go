// Package repositories defines interfaces for configuration data the
// services read.
package repositories

import (
	"context"

	"github.com/TFMV/sqlgate/pkg/models"
)

// MaskingRepository supplies masking configuration.
type MaskingRepository interface {
	// ListMaskingRules returns every configured rule.
	ListMaskingRules(ctx context.Context) ([]models.MaskingRule, error)
	// ListMaskingColumns returns the columns bound to rules on one instance.
	ListMaskingColumns(ctx context.Context, instance string) ([]models.MaskingColumn, error)
}
