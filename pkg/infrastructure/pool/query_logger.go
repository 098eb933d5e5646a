package pool

import (
	"time"

	"github.com/rs/zerolog"
)

// QueryLogger logs statement timings, promoting slow ones to warn.
type QueryLogger struct {
	logger    zerolog.Logger
	threshold time.Duration
	enabled   bool
}

// NewQueryLogger creates a new query logger.
func NewQueryLogger(logger zerolog.Logger, threshold time.Duration, enabled bool) *QueryLogger {
	return &QueryLogger{
		logger:    logger,
		threshold: threshold,
		enabled:   enabled,
	}
}

// LogQuery logs statement execution details.
func (ql *QueryLogger) LogQuery(instance, query string, duration time.Duration, err error) {
	if ql == nil || !ql.enabled {
		return
	}

	logEvent := ql.logger.Debug()
	if duration > ql.threshold {
		logEvent = ql.logger.Warn().Bool("slow_query", true)
	}

	logEvent.
		Str("instance", instance).
		Dur("duration", duration).
		Str("sql", TruncateQuery(query)).
		Bool("success", err == nil).
		Msg("Statement executed")

	if err != nil {
		ql.logger.Error().
			Err(err).
			Str("instance", instance).
			Str("sql", TruncateQuery(query)).
			Msg("Statement failed")
	}
}

// TruncateQuery shortens long statements for logging.
func TruncateQuery(query string) string {
	const maxLen = 120
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
