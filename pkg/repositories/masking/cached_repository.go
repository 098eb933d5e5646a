package masking

import (
	"context"

	"github.com/TFMV/sqlgate/pkg/cache"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/repositories"
)

// CachedRepository serves masking configuration from a TTL cache in front of
// another repository. Errors are never cached.
type CachedRepository struct {
	next    repositories.MaskingRepository
	rules   cache.Cache[[]models.MaskingRule]
	columns cache.Cache[[]models.MaskingColumn]
}

var _ repositories.MaskingRepository = (*CachedRepository)(nil)

// NewCachedRepository wraps next with caches built from cfg.
func NewCachedRepository(next repositories.MaskingRepository, cfg *cache.Config) *CachedRepository {
	return &CachedRepository{
		next:    next,
		rules:   cache.NewMemoryCache[[]models.MaskingRule](cfg),
		columns: cache.NewMemoryCache[[]models.MaskingColumn](cfg),
	}
}

// ListMaskingRules returns the cached rules, loading them on a miss.
func (r *CachedRepository) ListMaskingRules(ctx context.Context) ([]models.MaskingRule, error) {
	if v, ok := r.rules.Get(ctx, "rules"); ok {
		return v, nil
	}
	v, err := r.next.ListMaskingRules(ctx)
	if err != nil {
		return nil, err
	}
	r.rules.Put(ctx, "rules", v)
	return v, nil
}

// ListMaskingColumns returns the cached columns of instance, loading them on
// a miss.
func (r *CachedRepository) ListMaskingColumns(ctx context.Context, instance string) ([]models.MaskingColumn, error) {
	key := cache.Key("columns", instance)
	if v, ok := r.columns.Get(ctx, key); ok {
		return v, nil
	}
	v, err := r.next.ListMaskingColumns(ctx, instance)
	if err != nil {
		return nil, err
	}
	r.columns.Put(ctx, key, v)
	return v, nil
}

// Invalidate drops everything cached.
func (r *CachedRepository) Invalidate(ctx context.Context) {
	r.rules.Clear(ctx)
	r.columns.Clear(ctx)
}

// Static is an in-memory repository.
type Static struct {
	Rules   []models.MaskingRule
	Columns []models.MaskingColumn
}

// ListMaskingRules returns s.Rules.
func (s *Static) ListMaskingRules(ctx context.Context) ([]models.MaskingRule, error) {
	return s.Rules, nil
}

// ListMaskingColumns returns the columns of instance.
func (s *Static) ListMaskingColumns(ctx context.Context, instance string) ([]models.MaskingColumn, error) {
	var out []models.MaskingColumn
	for _, c := range s.Columns {
		if c.InstanceName == instance {
			out = append(out, c)
		}
	}
	return out, nil
}
