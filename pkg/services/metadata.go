package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/cache"
	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/models"
)

// MetadataService lists catalog objects of instances whose engine can
// inspect its catalog.
type MetadataService struct {
	databases *cache.MemoryCache[[]string]
	tables    *cache.MemoryCache[[]models.Table]
	logger    zerolog.Logger
	metrics   metrics.Collector
}

// NewMetadataService creates a metadata service caching listings with cfg.
// A nil cfg uses the cache defaults.
func NewMetadataService(cfg *cache.Config, logger zerolog.Logger, m metrics.Collector) *MetadataService {
	if m == nil {
		m = metrics.NewNoOpCollector()
	}
	return &MetadataService{
		databases: cache.NewMemoryCache[[]string](cfg),
		tables:    cache.NewMemoryCache[[]models.Table](cfg),
		logger:    logger.With().Str("component", "metadata_service").Logger(),
		metrics:   m,
	}
}

// GetDatabases returns the databases (schemas) visible on inst.
func (s *MetadataService) GetDatabases(ctx context.Context, e engines.Engine, inst models.Instance) ([]string, error) {
	defer s.reportCacheStats()
	key := cache.Key(inst.Name, "databases")
	if dbs, ok := s.databases.Get(ctx, key); ok {
		return dbs, nil
	}

	timer := s.metrics.StartTimer("metadata_get_databases_seconds")
	defer timer.Stop()

	var dbs []string
	err := s.inspect(ctx, e, inst, inst.DefaultSchema, func(in engines.Inspector) error {
		var err error
		dbs, err = in.GetDatabases(ctx)
		return err
	})
	if err != nil {
		s.metrics.IncrementCounter("metadata_errors_total", "operation", "get_databases")
		s.logger.Error().Err(err).Str("instance", inst.Name).Msg("Failed to get databases")
		return nil, err
	}

	s.databases.Put(ctx, key, dbs)
	s.logger.Debug().Str("instance", inst.Name).Int("count", len(dbs)).Msg("Retrieved databases")
	return dbs, nil
}

// GetTables returns the tables of schema on inst.
func (s *MetadataService) GetTables(ctx context.Context, e engines.Engine, inst models.Instance, schema string) ([]models.Table, error) {
	if schema == "" {
		schema = inst.DefaultSchema
	}
	if schema == "" {
		return nil, gerrors.New(gerrors.CodeInvalidRequest, "schema is required")
	}

	defer s.reportCacheStats()
	key := cache.Key(inst.Name, "tables", schema)
	if tables, ok := s.tables.Get(ctx, key); ok {
		return tables, nil
	}

	timer := s.metrics.StartTimer("metadata_get_tables_seconds")
	defer timer.Stop()

	var tables []models.Table
	err := s.inspect(ctx, e, inst, schema, func(in engines.Inspector) error {
		var err error
		tables, err = in.GetTables(ctx, schema)
		return err
	})
	if err != nil {
		s.metrics.IncrementCounter("metadata_errors_total", "operation", "get_tables")
		s.logger.Error().Err(err).Str("instance", inst.Name).Str("schema", schema).Msg("Failed to get tables")
		return nil, err
	}

	s.tables.Put(ctx, key, tables)
	s.logger.Debug().Str("instance", inst.Name).Str("schema", schema).Int("count", len(tables)).Msg("Retrieved tables")
	return tables, nil
}

// CacheStats returns the hit and miss counts of the listing caches.
func (s *MetadataService) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"databases": s.databases.Stats(),
		"tables":    s.tables.Stats(),
	}
}

func (s *MetadataService) reportCacheStats() {
	for name, st := range s.CacheStats() {
		s.metrics.RecordGauge("metadata_cache_hits", float64(st.Hits), "cache", name)
		s.metrics.RecordGauge("metadata_cache_misses", float64(st.Misses), "cache", name)
	}
}

// Invalidate drops every cached listing.
func (s *MetadataService) Invalidate(ctx context.Context) {
	s.databases.Clear(ctx)
	s.tables.Clear(ctx)
}

func (s *MetadataService) inspect(ctx context.Context, e engines.Engine, inst models.Instance, schema string, fn func(engines.Inspector) error) error {
	sess, err := e.Connect(ctx, inst, schema)
	if err != nil {
		return err
	}
	defer sess.Close()

	in, ok := sess.(engines.Inspector)
	if !ok {
		return gerrors.Newf(gerrors.CodeUnimplemented, "%s does not support catalog inspection", e.Type())
	}
	return fn(in)
}
