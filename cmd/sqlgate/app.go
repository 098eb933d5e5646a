package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/sqlgate/pkg/backup"
	"github.com/TFMV/sqlgate/pkg/cache"
	"github.com/TFMV/sqlgate/pkg/config"
	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/repositories"
	"github.com/TFMV/sqlgate/pkg/repositories/masking"
)

// app holds what every command needs for one instance.
type app struct {
	cfg     *config.Config
	getter  config.Getter
	logger  zerolog.Logger
	metrics metrics.Collector

	pool   *pool.Manager
	engine engines.Engine
	inst   models.Instance
	schema string

	metricsServer *metrics.MetricsServer
	store         *backup.Store
}

func newApp(cmd *cobra.Command) (*app, error) {
	v := viper.GetViper()
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger := setupLogging(cfg.LogLevel, cfg.Logging.Console)
	a := &app{
		cfg:     cfg,
		getter:  config.NewProvider(v),
		logger:  logger,
		metrics: metrics.NewNoOpCollector(),
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		a.metrics = metrics.NewPrometheusCollector(cfg.Metrics.Namespace, reg)
		a.metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address, reg)
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := a.metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	name, _ := cmd.Flags().GetString("instance")
	a.inst, err = resolveInstance(cfg, name)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.schema, _ = cmd.Flags().GetString("schema")

	a.pool = pool.NewManager(cfg.ConnectionPool, logger.With().Str("component", "pool").Logger(),
		pool.WithMetrics(a.metrics))
	a.engine, err = engines.New(a.inst.DBType, engines.Deps{
		Pool:     a.pool,
		Logger:   logger.With().Str("component", "engine").Str("instance", a.inst.Name).Logger(),
		Metrics:  a.metrics,
		TraceSQL: cfg.Logging.TraceSQL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug().
		Str("instance", a.inst.Name).
		Str("db_type", a.inst.DBType).
		Str("version", version).
		Msg("Gateway initialized")
	return a, nil
}

func resolveInstance(cfg *config.Config, name string) (models.Instance, error) {
	if name != "" {
		return cfg.Instance(name)
	}
	if len(cfg.Instances) == 1 {
		return cfg.Instances[0], nil
	}
	if len(cfg.Instances) == 0 {
		return models.Instance{}, gerrors.New(gerrors.CodeInvalidRequest, "no instances are configured")
	}
	return models.Instance{}, gerrors.New(gerrors.CodeInvalidRequest,
		"several instances are configured, pick one with --instance")
}

// maskingRepository returns the configured rules behind a TTL cache, or an
// empty repository when no rules file is set.
func (a *app) maskingRepository() (repositories.MaskingRepository, error) {
	if a.cfg.Masking.RulesFile == "" {
		return &masking.Static{}, nil
	}
	file, err := masking.NewFileRepository(a.cfg.Masking.RulesFile,
		a.logger.With().Str("component", "masking_rules").Logger())
	if err != nil {
		return nil, err
	}
	return masking.NewCachedRepository(file, cache.DefaultConfig().WithTTL(a.cfg.Masking.CacheTTL)), nil
}

// backupStore opens the store on first use.
func (a *app) backupStore() (*backup.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if !a.cfg.Backup.Enabled {
		return nil, gerrors.New(gerrors.CodeInvalidRequest, "backups are disabled, set backup.enabled")
	}
	s, err := backup.Open(a.cfg.Backup.StorePath, backup.Options{}, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// Close releases pools, the backup store and the metrics server.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close backup store")
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close connection pools")
		}
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Stop(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
}
