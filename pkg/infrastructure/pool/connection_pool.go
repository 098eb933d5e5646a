// Package pool keeps one database/sql pool per target instance and leases
// single connections out of it, so a whole script runs on one session.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
)

// Config represents pool configuration shared by every instance pool.
type Config struct {
	MaxOpenConnections int           `yaml:"max_open_connections" json:"max_open_connections" mapstructure:"max_open_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections" json:"max_idle_connections" mapstructure:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `yaml:"health_check_period" json:"health_check_period" mapstructure:"health_check_period"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout" json:"connection_timeout" mapstructure:"connection_timeout"`

	EnableCircuitBreaker    bool          `yaml:"enable_circuit_breaker" json:"enable_circuit_breaker" mapstructure:"enable_circuit_breaker"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold" mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout" json:"circuit_breaker_timeout" mapstructure:"circuit_breaker_timeout"`
	EnableSlowQueryLogging  bool          `yaml:"enable_slow_query_logging" json:"enable_slow_query_logging" mapstructure:"enable_slow_query_logging"`
	SlowQueryThreshold      time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold" mapstructure:"slow_query_threshold"`
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = 10
	}
	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = 2
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 10 * time.Second
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = 60 * time.Second
	}
	if c.SlowQueryThreshold <= 0 {
		c.SlowQueryThreshold = time.Second
	}
	return c
}

// Source identifies one instance pool: the instance name plus the driver and
// DSN used to open it.
type Source struct {
	Key    string
	Driver string
	DSN    string
}

// PoolStats represents statistics of one instance pool.
type PoolStats struct {
	OpenConnections     int           `json:"open_connections"`
	InUse               int           `json:"in_use"`
	Idle                int           `json:"idle"`
	WaitCount           int64         `json:"wait_count"`
	WaitDuration        time.Duration `json:"wait_duration"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	HealthCheckStatus   string        `json:"health_check_status"`
	CircuitBreakerState string        `json:"circuit_breaker_state,omitempty"`
}

// OpenFunc opens a database handle. It defaults to sql.Open.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// Manager owns the instance pools.
type Manager struct {
	config  Config
	logger  zerolog.Logger
	metrics metrics.Collector
	open    OpenFunc
	queries *QueryLogger

	mu     sync.Mutex
	pools  map[string]*instancePool
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

type instancePool struct {
	source  Source
	db      *sql.DB
	breaker *CircuitBreaker

	waitCount       atomic.Int64
	waitDuration    atomic.Int64
	lastHealthCheck atomic.Int64
	healthStatus    atomic.Value // string
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpenFunc replaces sql.Open, mainly for tests.
func WithOpenFunc(open OpenFunc) Option {
	return func(m *Manager) { m.open = open }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager creates an empty manager; instance pools are opened on demand.
func NewManager(cfg Config, logger zerolog.Logger, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:  cfg,
		logger:  logger.With().Str("component", "pool").Logger(),
		metrics: metrics.NewNoOpCollector(),
		open:    sql.Open,
		pools:   make(map[string]*instancePool),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.queries = NewQueryLogger(m.logger, cfg.SlowQueryThreshold, cfg.EnableSlowQueryLogging)
	return m
}

// QueryLogger returns the slow query logger shared by engines.
func (m *Manager) QueryLogger() *QueryLogger {
	return m.queries
}

// DB returns the pool for src, opening and verifying it on first use.
func (m *Manager) DB(ctx context.Context, src Source) (*sql.DB, error) {
	p, err := m.acquire(ctx, src)
	if err != nil {
		return nil, err
	}
	return p.db, nil
}

// Conn leases one connection from the instance pool. The caller owns the
// connection until Close returns it to the pool.
func (m *Manager) Conn(ctx context.Context, src Source) (*sql.Conn, error) {
	p, err := m.acquire(ctx, src)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	conn, err := p.db.Conn(ctx)
	m.recordAcquire(p, time.Since(start))
	if err != nil {
		m.recordFailure(p)
		return nil, gerrors.Wrap(err, gerrors.CodeConnectionFailed, "failed to lease connection")
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
	return conn, nil
}

func (m *Manager) acquire(ctx context.Context, src Source) (*instancePool, error) {
	if m.closed.Load() {
		return nil, gerrors.New(gerrors.CodeConnectionFailed, "connection pool is closed")
	}

	m.mu.Lock()
	p, ok := m.pools[src.Key]
	if ok && (p.source.DSN != src.DSN || p.source.Driver != src.Driver) {
		// Instance definition changed: retire the old pool.
		_ = p.db.Close()
		delete(m.pools, src.Key)
		ok = false
	}
	m.mu.Unlock()

	if ok {
		if p.breaker != nil && !p.breaker.CanExecute() {
			return nil, gerrors.New(gerrors.CodeConnectionFailed, "circuit breaker is open").
				WithDetail("instance", src.Key)
		}
		return p, nil
	}

	p, err := m.openPool(ctx, src)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pools[src.Key]; ok {
		_ = p.db.Close()
		return existing, nil
	}
	m.pools[src.Key] = p
	if m.config.HealthCheckPeriod > 0 {
		go m.healthCheckRoutine(p)
	}
	return p, nil
}

func (m *Manager) openPool(ctx context.Context, src Source) (*instancePool, error) {
	m.logger.Info().
		Str("instance", src.Key).
		Str("driver", src.Driver).
		Str("dsn", maskDSN(src.DSN)).
		Int("max_open", m.config.MaxOpenConnections).
		Msg("Opening instance pool")

	db, err := m.open(src.Driver, src.DSN)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeConnectionFailed, "failed to open database")
	}
	db.SetMaxOpenConns(m.config.MaxOpenConnections)
	db.SetMaxIdleConns(m.config.MaxIdleConnections)
	db.SetConnMaxLifetime(m.config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(m.config.ConnMaxIdleTime)

	p := &instancePool{source: src, db: db}
	if m.config.EnableCircuitBreaker {
		p.breaker = NewCircuitBreaker(m.config.CircuitBreakerThreshold, m.config.CircuitBreakerTimeout)
	}
	p.healthStatus.Store("unknown")

	pingCtx, cancel := context.WithTimeout(ctx, m.config.ConnectionTimeout)
	defer cancel()
	if err := m.ping(pingCtx, p); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (m *Manager) ping(ctx context.Context, p *instancePool) error {
	p.lastHealthCheck.Store(time.Now().Unix())
	if err := p.db.PingContext(ctx); err != nil {
		p.healthStatus.Store("unhealthy")
		m.logger.Warn().Err(err).Str("instance", p.source.Key).Msg("Instance ping failed")
		return gerrors.Wrap(err, gerrors.CodeConnectionFailed, "database connection failed").
			WithDetail("instance", p.source.Key)
	}
	p.healthStatus.Store("healthy")
	return nil
}

func (m *Manager) recordAcquire(p *instancePool, d time.Duration) {
	p.waitCount.Add(1)
	p.waitDuration.Add(int64(d))
	m.metrics.RecordHistogram(metrics.PoolAcquireSeconds, d.Seconds())
	m.metrics.RecordGauge(metrics.PoolOpenConnections, float64(p.db.Stats().OpenConnections), "instance", p.source.Key)
}

func (m *Manager) recordFailure(p *instancePool) {
	if p.breaker == nil {
		return
	}
	if p.breaker.RecordFailure() {
		m.metrics.IncrementCounter(metrics.CircuitBreakerTrips)
		m.logger.Warn().Str("instance", p.source.Key).Msg("Circuit breaker opened")
	}
}

// HealthCheck pings the pool of one instance.
func (m *Manager) HealthCheck(ctx context.Context, key string) error {
	m.mu.Lock()
	p, ok := m.pools[key]
	m.mu.Unlock()
	if !ok {
		return gerrors.Newf(gerrors.CodeNotFound, "no pool for instance %q", key)
	}
	return m.ping(ctx, p)
}

// Stats returns statistics for one instance pool.
func (m *Manager) Stats(key string) (PoolStats, bool) {
	m.mu.Lock()
	p, ok := m.pools[key]
	m.mu.Unlock()
	if !ok {
		return PoolStats{}, false
	}

	dbStats := p.db.Stats()
	stats := PoolStats{
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         p.waitCount.Load(),
		WaitDuration:      time.Duration(p.waitDuration.Load()),
		LastHealthCheck:   time.Unix(p.lastHealthCheck.Load(), 0),
		HealthCheckStatus: p.healthStatus.Load().(string),
	}
	if p.breaker != nil {
		stats.CircuitBreakerState = p.breaker.GetState().String()
	}
	return stats, true
}

// Close closes every instance pool.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key, p := range m.pools {
		if err := p.db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.pools, key)
	}
	m.logger.Info().Msg("Closed instance pools")
	if len(errs) > 0 {
		return gerrors.Wrap(errors.Join(errs...), gerrors.CodeInternal, "failed to close pools")
	}
	return nil
}

// healthCheckRoutine pings one instance periodically until the manager closes.
func (m *Manager) healthCheckRoutine(p *instancePool) {
	ticker := time.NewTicker(m.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
			if err := m.ping(probeCtx, p); err != nil && !errors.Is(err, context.Canceled) {
				m.recordFailure(p)
			}
			cancel()
		}
	}
}

// maskDSN hides passwords, tokens and secrets but keeps enough of the string
// to be recognisable in logs.
//
//   - ":memory:" or empty: returned verbatim
//   - URL-like DSNs: user password and sensitive query params redacted
//   - user:pass@tcp(host)/db (MySQL): password redacted
//   - anything else: first/last 3 runes kept, middle masked
func maskDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	if at := strings.LastIndex(dsn, "@tcp("); at > 0 && !strings.Contains(dsn, "://") {
		user := dsn[:at]
		if i := strings.IndexByte(user, ':'); i >= 0 {
			user = user[:i] + ":*****"
		}
		return user + dsn[at:]
	}

	u, err := url.Parse(dsn)
	if err == nil && looksLikeURL(u) {
		if ui := u.User; ui != nil {
			user := ui.Username()
			if _, hasPass := ui.Password(); hasPass {
				u.User = url.UserPassword(user, "*****")
			} else {
				u.User = url.User(user)
			}
		}

		q := u.Query()
		for k := range q {
			if isSensitiveKey(k) {
				q.Set(k, "*****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	runes := []rune(dsn)
	if len(runes) <= 10 {
		return "***"
	}
	return string(runes[:3]) + "***" + string(runes[len(runes)-3:])
}

func looksLikeURL(u *url.URL) bool {
	return u.Scheme != "" || u.Host != "" || u.User != nil || u.RawQuery != ""
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "pass"),
		strings.Contains(key, "token"),
		strings.Contains(key, "secret"),
		strings.HasSuffix(key, "key"):
		return true
	default:
		return false
	}
}
