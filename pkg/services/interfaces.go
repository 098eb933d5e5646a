// Package services contains the audit, execution, query and masking logic
// that sits between callers and the database engines.
package services

import (
	"context"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
)

// CaptureRequest describes a statement about to run with backup enabled.
type CaptureRequest struct {
	WorkflowID string
	Sequence   string
	SQLSha1    string
	Instance   models.Instance
	Schema     string
	Statement  string
	// Session is the script's own session; recorders read pre-state through
	// it so the snapshot sees the same transaction as the statement.
	Session engines.Session
}

// RollbackPair is an executed statement and the statement that undoes it.
// Undo is empty when no inverse could be derived.
type RollbackPair struct {
	Sequence string `json:"sequence"`
	Original string `json:"original"`
	Undo     string `json:"undo"`
}

// BackupRecorder stores what is needed to roll a workflow back.
type BackupRecorder interface {
	// Capture runs before a DML or DDL statement and returns a token
	// identifying the stored backup.
	Capture(ctx context.Context, req CaptureRequest) (string, error)
	// RollbackStatementsFor returns the pairs of a workflow, most recent
	// first.
	RollbackStatementsFor(ctx context.Context, workflowID string) ([]RollbackPair, error)
}
