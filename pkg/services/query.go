package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/config"
	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/models"
)

// Row limits applied when the configuration leaves them unset.
const (
	DefaultQueryLimit = 100
	DefaultMaxLimit   = 10000
)

// QueryService runs read queries: check, limit, execute, truncate and mask.
type QueryService struct {
	masker  *Masker
	cfg     config.Getter
	logger  zerolog.Logger
	metrics metrics.Collector
}

// NewQueryService creates a query service. masker may be nil to return
// results unmasked.
func NewQueryService(masker *Masker, cfg config.Getter, logger zerolog.Logger, m metrics.Collector) *QueryService {
	if m == nil {
		m = metrics.NewNoOpCollector()
	}
	return &QueryService{
		masker:  masker,
		cfg:     cfg,
		logger:  logger.With().Str("component", "query_service").Logger(),
		metrics: m,
	}
}

// Query runs req on e. Invalid requests return an error; everything that
// happens once the request is accepted is reported through the result's
// Error field, which always comes with empty rows.
func (s *QueryService) Query(ctx context.Context, e engines.Engine, req models.QueryRequest) (*models.ResultSet, error) {
	if err := s.validate(req); err != nil {
		s.metrics.IncrementCounter(metrics.QueriesTotal, "engine", e.Type(), "status", "invalid")
		return nil, err
	}

	rs := models.NewResultSet(req.SQL)
	check := QueryCheck(e, req.SQL)
	if check.BadQuery {
		s.metrics.IncrementCounter(metrics.QueriesTotal, "engine", e.Type(), "status", "rejected")
		return rs.Fail(gerrors.New(gerrors.CodeStatementRejected, check.Msg)), nil
	}

	limit := s.limit(req.Limit)
	sql := e.FilterSQL(check.FilteredSQL, limit)
	rs.FullSQL = sql

	schema := req.Schema
	if schema == "" {
		schema = req.Instance.DefaultSchema
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	logger := s.logger.With().
		Str("engine", e.Type()).
		Str("instance", req.Instance.Name).
		Str("sql", truncate(sql)).
		Logger()

	out, err := s.run(ctx, e, req.Instance, schema, sql, limit)
	if err != nil {
		logger.Error().Err(err).Msg("Query failed")
		s.metrics.IncrementCounter(metrics.QueriesTotal, "engine", e.Type(), "status", "failed")
		return rs.Fail(err), nil
	}
	out.FullSQL = sql
	out.Limit(limit)

	if s.masker != nil {
		masked, err := s.masker.Mask(ctx, req.Instance, out)
		if err != nil {
			logger.Error().Err(err).Msg("Masking failed, withholding result")
			s.metrics.IncrementCounter(metrics.QueriesTotal, "engine", e.Type(), "status", "mask_failed")
			return out.Fail(err), nil
		}
		out = masked
	}

	s.metrics.IncrementCounter(metrics.QueriesTotal, "engine", e.Type(), "status", "ok")
	s.metrics.RecordHistogram(metrics.StatementSeconds, out.QueryTime, "engine", e.Type(), "kind", "query")
	logger.Debug().
		Int64("rows", out.AffectedRows).
		Bool("truncated", out.Truncated).
		Bool("masked", out.IsMasked).
		Float64("seconds", out.QueryTime).
		Msg("Query completed")
	return out, nil
}

func (s *QueryService) run(ctx context.Context, e engines.Engine, inst models.Instance, schema, sql string, limit int) (*models.ResultSet, error) {
	sess, err := e.Connect(ctx, inst, schema)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	start := time.Now()
	out, err := sess.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	if out.Failed() {
		return nil, gerrors.New(gerrors.CodeStatementExecutionFailed, out.Error)
	}
	if out.QueryTime == 0 {
		out.QueryTime = time.Since(start).Seconds()
	}
	return out, nil
}

func (s *QueryService) validate(req models.QueryRequest) error {
	if req.SQL == "" {
		return gerrors.New(gerrors.CodeInvalidRequest, "query cannot be empty")
	}
	if req.Limit < 0 {
		return gerrors.New(gerrors.CodeInvalidRequest, "limit cannot be negative")
	}
	if req.Timeout < 0 {
		return gerrors.New(gerrors.CodeInvalidRequest, "timeout cannot be negative")
	}
	return nil
}

// limit resolves the row cap: the requested limit or the default, never
// above the configured maximum.
func (s *QueryService) limit(requested int) int {
	max := int(configInt(s.cfg, config.KeyMaxLimit, DefaultMaxLimit))
	n := requested
	if n == 0 {
		n = int(configInt(s.cfg, config.KeyDefaultLimit, DefaultQueryLimit))
	}
	if n > max {
		n = max
	}
	return n
}
