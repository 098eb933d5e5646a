package services

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/config"
	"github.com/TFMV/sqlgate/pkg/engines"
	_ "github.com/TFMV/sqlgate/pkg/engines/sqlite"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	maskrepo "github.com/TFMV/sqlgate/pkg/repositories/masking"
)

// sqliteGateway wires the services to an in-memory SQLite instance the way
// the command line does, with Prometheus metrics enabled.
type sqliteGateway struct {
	inst    models.Instance
	engine  engines.Engine
	reg     *prometheus.Registry
	metrics metrics.Collector
	logger  zerolog.Logger
}

func newSQLiteGateway(t *testing.T, name string) *sqliteGateway {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheusCollector("sqlgate", reg)

	pools := pool.NewManager(pool.Config{}, logger, pool.WithMetrics(collector))
	t.Cleanup(func() { _ = pools.Close() })

	e, err := engines.New("sqlite", engines.Deps{Pool: pools, Logger: logger, Metrics: collector})
	require.NoError(t, err)

	return &sqliteGateway{
		inst:    models.Instance{Name: name, DBType: "sqlite"},
		engine:  e,
		reg:     reg,
		metrics: collector,
		logger:  logger,
	}
}

// samples sums the counter values and histogram observations of a metric
// family across its label sets.
func (g *sqliteGateway) samples(t *testing.T, name string) uint64 {
	families, err := g.reg.Gather()
	require.NoError(t, err)
	var n uint64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				n += h.GetSampleCount()
			}
			if c := m.GetCounter(); c != nil {
				n += uint64(c.GetValue())
			}
		}
	}
	return n
}

func TestSQLiteCreateThenPopulate(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteGateway(t, "create_then_populate")
	auditor := NewAuditor(config.Static{}, g.logger, g.metrics)

	set := auditor.ExecuteCheck(ctx, g.engine, g.inst, "",
		"CREATE TABLE n (id int); INSERT INTO n VALUES (1); UPDATE n SET id = 2 WHERE id = 1")
	require.Empty(t, set.Error)
	assert.Equal(t, []rowSummary{
		{models.StageAuditCompleted, models.ErrLevelOK},
		{models.StageAuditCompleted, models.ErrLevelOK},
		{models.StageAuditCompleted, models.ErrLevelOK},
	}, summarize(set))
	assert.False(t, set.Failed())

	// a table the script neither creates nor finds is still reported
	set = auditor.ExecuteCheck(ctx, g.engine, g.inst, "", "UPDATE nowhere SET id = 2 WHERE id = 1")
	require.Len(t, set.Rows, 1)
	assert.Equal(t, models.ErrLevelError, set.Rows[0].ErrLevel)
	assert.Contains(t, set.Rows[0].ErrorMessage, "nowhere")
}

func TestSQLiteAuditExecuteQuery(t *testing.T) {
	ctx := context.Background()
	g := newSQLiteGateway(t, "end_to_end")
	script := "CREATE TABLE users (id INTEGER PRIMARY KEY, phone TEXT);\n" +
		"INSERT INTO users (phone) VALUES ('13812345678'), ('13900001111');\n" +
		"UPDATE users SET phone = '13700002222' WHERE id = 2;"

	set := NewAuditor(config.Static{}, g.logger, g.metrics).ExecuteCheck(ctx, g.engine, g.inst, "", script)
	require.Empty(t, set.Error)
	require.Len(t, set.Rows, 3)
	assert.Equal(t, 0, set.ErrorCount)
	assert.Equal(t, models.SyntaxTypeDDL, set.SyntaxType)

	done := NewExecutor(nil, g.logger, g.metrics).Execute(ctx, g.engine, ExecuteRequest{Instance: g.inst, Script: script})
	require.Empty(t, done.Error)
	for _, row := range done.Rows {
		assert.Equal(t, models.StageExecuted, row.StageStatus, row.SQL)
	}
	assert.Equal(t, int64(2), done.Rows[1].AffectedRows)

	repo := &maskrepo.Static{
		Rules: []models.MaskingRule{phoneRule},
		Columns: []models.MaskingColumn{{
			RuleType: "phone", Active: true, InstanceName: g.inst.Name,
			TableName: "users", ColumnName: "phone", Position: 2,
		}},
	}
	masker := NewMasker(repo, nil, g.logger, g.metrics)
	qs := NewQueryService(masker, config.Static{}, g.logger, g.metrics)

	rs, err := qs.Query(ctx, g.engine, models.QueryRequest{Instance: g.inst, SQL: "SELECT id, phone FROM users ORDER BY id"})
	require.NoError(t, err)
	require.Empty(t, rs.Error)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "138****5678", rs.Rows[0][1])
	assert.Equal(t, "137****2222", rs.Rows[1][1])
	assert.True(t, rs.IsMasked)

	rs, err = qs.Query(ctx, g.engine, models.QueryRequest{Instance: g.inst,
		SQL: "WITH x AS (SELECT 1) INSERT INTO users (phone) SELECT '1' FROM x"})
	require.NoError(t, err)
	assert.NotEmpty(t, rs.Error)

	assert.Equal(t, uint64(3), g.samples(t, "sqlgate_audit_statements_total"))
	assert.Equal(t, uint64(3), g.samples(t, "sqlgate_execute_statements_total"))
	assert.Equal(t, uint64(4), g.samples(t, "sqlgate_statement_duration_seconds"))
	assert.Equal(t, uint64(2), g.samples(t, "sqlgate_queries_total"))
	assert.GreaterOrEqual(t, g.samples(t, "sqlgate_session_statement_duration_seconds"), uint64(4))
	assert.Equal(t, uint64(2), g.samples(t, "sqlgate_masking_cells_total"))
}
