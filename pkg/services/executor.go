package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// ExecuteRequest is one script to run against one instance.
type ExecuteRequest struct {
	Instance models.Instance
	Schema   string
	Script   string
	// Backup asks the recorder to capture every DML and DDL statement
	// before it runs.
	Backup     bool
	WorkflowID string
}

// Executor runs scripts statement by statement on a single session and
// stops at the first failure.
type Executor struct {
	recorder BackupRecorder
	logger   zerolog.Logger
	metrics  metrics.Collector
}

// NewExecutor creates an executor. recorder may be nil when backups are
// never requested.
func NewExecutor(recorder BackupRecorder, logger zerolog.Logger, m metrics.Collector) *Executor {
	if m == nil {
		m = metrics.NewNoOpCollector()
	}
	return &Executor{
		recorder: recorder,
		logger:   logger.With().Str("component", "executor").Logger(),
		metrics:  m,
	}
}

// Execute runs req.Script on e. Statements after a failed one are reported
// as not executed and never sent to the database.
func (x *Executor) Execute(ctx context.Context, e engines.Engine, req ExecuteRequest) *models.ReviewSet {
	set := models.NewReviewSet(req.Script)
	schema := req.Schema
	if schema == "" {
		schema = req.Instance.DefaultSchema
	}

	items, err := engines.SplitItems(e, req.Script, schema)
	if err != nil {
		set.Error = err.Error()
		return set
	}
	if len(items) == 0 {
		set.Error = MsgNoValidStatement
		return set
	}
	if req.Backup && x.recorder == nil {
		set.Error = "backup requested but no backup recorder is configured"
		return set
	}

	stmts := make([]string, len(items))
	for i, it := range items {
		stmts[i] = it.Statement
	}
	set.SyntaxType = syntaxOf(stmts)

	x.run(ctx, e, req, schema, set, items)
	return set
}

// Rollback runs the undo statements recorded for workflowID, most recent
// first, with the same stop-on-failure policy as Execute. Pairs without an
// undo statement are skipped.
func (x *Executor) Rollback(ctx context.Context, e engines.Engine, inst models.Instance, schema, workflowID string) (*models.ReviewSet, error) {
	pairs, err := x.RollbackStatements(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var items []models.SQLItem
	for _, p := range pairs {
		if p.Undo == "" {
			x.logger.Warn().Str("sequence", p.Sequence).Str("sql", truncate(p.Original)).Msg("No undo statement recorded")
			continue
		}
		items = append(items, models.SQLItem{Statement: p.Undo, StmtType: models.StmtTypeSQL})
	}

	set := models.NewReviewSet("")
	if len(items) == 0 {
		set.Error = "nothing to roll back for workflow " + workflowID
		return set, nil
	}
	for _, it := range items {
		set.FullSQL += it.Statement + ";\n"
	}
	if schema == "" {
		schema = inst.DefaultSchema
	}
	x.run(ctx, e, ExecuteRequest{Instance: inst, Schema: schema, Script: set.FullSQL}, schema, set, items)
	return set, nil
}

// RollbackStatements returns the recorded pairs of a workflow, most recent
// first.
func (x *Executor) RollbackStatements(ctx context.Context, workflowID string) ([]RollbackPair, error) {
	if x.recorder == nil {
		return nil, gerrors.New(gerrors.CodeInvalidRequest, "no backup recorder is configured")
	}
	if workflowID == "" {
		return nil, gerrors.New(gerrors.CodeInvalidRequest, "workflow id is required")
	}
	return x.recorder.RollbackStatementsFor(ctx, workflowID)
}

func (x *Executor) run(ctx context.Context, e engines.Engine, req ExecuteRequest, schema string, set *models.ReviewSet, items []models.SQLItem) {
	logger := x.logger.With().Str("engine", e.Type()).Str("instance", req.Instance.Name).Logger()

	sess, err := e.Connect(ctx, req.Instance, schema)
	if err != nil {
		logger.Error().Err(err).Msg("Execute connection failed")
		set.Error = gerrors.GetMessage(err)
		return
	}
	defer sess.Close()

	failed := false
	for _, item := range items {
		row := set.Append(&models.ReviewResult{
			SQL:         item.Statement,
			StmtType:    string(item.StmtType),
			ObjectOwner: item.ObjectOwner,
			ObjectType:  item.ObjectType,
			ObjectName:  item.ObjectName,
			SQLSha1:     sqlSha1(item.Statement),
		})
		if req.WorkflowID != "" {
			row.Sequence = fmt.Sprintf("%s_%d", req.WorkflowID, row.ID)
		}

		if failed {
			row.StageStatus = models.StageNotExecuted
			continue
		}

		if req.Backup && (item.IsPLSQL() || sqlparse.Classify(item.Statement).Writes()) {
			token, err := x.recorder.Capture(ctx, CaptureRequest{
				WorkflowID: req.WorkflowID,
				Sequence:   row.Sequence,
				SQLSha1:    row.SQLSha1,
				Instance:   req.Instance,
				Schema:     schema,
				Statement:  item.Statement,
				Session:    sess,
			})
			if err != nil {
				row.StageStatus = models.StageBackupFailed
				row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
				set.Error = fmt.Sprintf("statement %d: backup failed: %s", row.ID, gerrors.GetMessage(err))
				failed = true
				continue
			}
			row.BackupDBName = token
		}

		start := time.Now()
		n, err := sess.Execute(ctx, item.Statement)
		row.ExecuteTime = time.Since(start).Seconds()
		x.metrics.RecordHistogram(metrics.StatementSeconds, row.ExecuteTime, "engine", e.Type(), "kind", "execute")
		if err != nil {
			row.StageStatus = models.StageExecuteFailed
			row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
			set.Error = fmt.Sprintf("statement %d failed: %s", row.ID, gerrors.GetMessage(err))
			failed = true

			x.metrics.IncrementCounter(metrics.ExecuteStatementsTotal, "engine", e.Type(), "status", "failed")
			x.metrics.IncrementCounter(metrics.ExecuteFailuresTotal, "engine", e.Type())
			logger.Error().Err(err).Int("id", row.ID).Str("sql", truncate(item.Statement)).Msg("Statement failed, stopping")
			continue
		}
		row.StageStatus = models.StageExecuted
		row.AffectedRows = n
		x.metrics.IncrementCounter(metrics.ExecuteStatementsTotal, "engine", e.Type(), "status", "ok")
	}

	set.Recount()
	logger.Info().
		Int("statements", len(set.Rows)).
		Int64("affected_rows", set.AffectedRows()).
		Bool("failed", failed).
		Msg("Script executed")
}

// syntaxOf classifies a script: DDL if any statement is DDL, else DML if any
// is DML.
func syntaxOf(stmts []string) models.SyntaxType {
	st := models.SyntaxTypeOther
	for _, s := range stmts {
		switch sqlparse.Classify(s) {
		case sqlparse.CategoryDDL:
			return models.SyntaxTypeDDL
		case sqlparse.CategoryDML:
			st = models.SyntaxTypeDML
		}
	}
	return st
}

func sqlSha1(stmt string) string {
	sum := sha1.Sum([]byte(stmt))
	return hex.EncodeToString(sum[:])
}
