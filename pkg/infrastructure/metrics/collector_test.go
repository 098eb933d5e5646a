package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()

	assert.NotPanics(t, func() {
		collector.IncrementCounter(AuditStatementsTotal, "engine", "mysql", "errlevel", "0")
		collector.AddCounter(MaskingCellsTotal, 3)
		collector.RecordHistogram(StatementSeconds, 0.2, "engine", "mysql")
		collector.RecordGauge(PoolOpenConnections, 4, "instance", "prod")
	})
}

func TestNoOpCollector_StartTimer(t *testing.T) {
	timer := NewNoOpCollector().StartTimer("test_timer")

	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.Greater(t, duration, 0.0)
	assert.Less(t, duration, 1.0)
}
