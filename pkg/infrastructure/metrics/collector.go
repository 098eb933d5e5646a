// Package metrics records audit, execution, query and masking metrics.
package metrics

import (
	"time"
)

// Metric names emitted by the gateway.
const (
	AuditStatementsTotal   = "audit_statements_total"     // labels: engine, errlevel
	AuditCriticalTotal     = "audit_critical_total"       // labels: engine
	ExecuteStatementsTotal = "execute_statements_total"   // labels: engine, status
	ExecuteFailuresTotal   = "execute_failures_total"     // labels: engine
	StatementSeconds       = "statement_duration_seconds" // labels: engine, kind
	// SessionStatementSeconds times each round trip a session makes.
	SessionStatementSeconds = "session_statement_duration_seconds" // labels: engine
	QueriesTotal            = "queries_total"                      // labels: engine, status
	MaskingCellsTotal       = "masking_cells_total"
	MaskingFailuresTotal    = "masking_failures_total" // labels: reason
	PoolAcquireSeconds      = "pool_acquire_duration_seconds"
	PoolOpenConnections     = "pool_open_connections" // labels: instance
	CircuitBreakerTrips     = "pool_circuit_breaker_trips_total"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// AddCounter adds delta to a counter metric.
	AddCounter(name string, delta float64, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer for measuring duration.
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// AddCounter does nothing.
func (n *NoOpCollector) AddCounter(name string, delta float64, labels ...string) {}

// RecordHistogram does nothing.
func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that only measures elapsed time.
func (n *NoOpCollector) StartTimer(name string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

// Stop returns the elapsed time in seconds.
func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}
