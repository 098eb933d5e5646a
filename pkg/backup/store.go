// Package backup records what is needed to undo executed statements: an
// inverse statement where one can be derived and a JSON snapshot of the rows
// a DML statement is about to change.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/services"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// DefaultMaxSnapshotRows bounds the rows read before a single statement.
const DefaultMaxSnapshotRows = 10000

// Options configure a Store.
type Options struct {
	// MaxSnapshotRows fails a capture whose snapshot would exceed it.
	MaxSnapshotRows int
}

// Snapshot is the pre-image of the rows a statement changed.
type Snapshot struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Record is one stored backup.
type Record struct {
	Token      string    `json:"token"`
	WorkflowID string    `json:"workflow_id"`
	Sequence   string    `json:"sequence"`
	SQLSha1    string    `json:"sql_sha1"`
	Instance   string    `json:"instance"`
	Schema     string    `json:"schema"`
	Original   string    `json:"original"`
	Undo       string    `json:"undo"`
	Snapshot   *Snapshot `json:"snapshot,omitempty"`
	RowCount   int       `json:"row_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a BackupRecorder kept in a SQLite file.
type Store struct {
	db      *sql.DB
	maxRows int
	logger  zerolog.Logger
	now     func() time.Time
}

var _ services.BackupRecorder = (*Store)(nil)

// Open opens or creates the store at path and applies pending migrations.
func Open(path string, opts Options, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", "backup_store").Logger()

	db, err := sql.Open("sqlite3", buildDSN(path))
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to open backup store")
	}
	// a single writer avoids SQLITE_BUSY between captures
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to migrate backup store")
	}

	if opts.MaxSnapshotRows <= 0 {
		opts.MaxSnapshotRows = DefaultMaxSnapshotRows
	}
	logger.Info().Str("path", path).Msg("Backup store opened")
	return &Store{db: db, maxRows: opts.MaxSnapshotRows, logger: logger, now: time.Now}, nil
}

func buildDSN(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "NORMAL")
	return "file:" + path + "?" + q.Encode()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Capture stores the backup of req.Statement and returns its token. Rows
// are read through req.Session so the snapshot sees what the statement will.
func (s *Store) Capture(ctx context.Context, req services.CaptureRequest) (string, error) {
	d := sqlparse.DialectFor(req.Instance.DBType)
	plan := Derive(req.Statement, d)

	undo := plan.Undo
	var snap *Snapshot
	if plan.SnapshotSQL != "" {
		var err error
		snap, err = s.snapshot(ctx, req, plan.SnapshotSQL)
		if err != nil {
			return "", err
		}
		if plan.Restore {
			undo = InsertStatement(d, plan.Table, snap.Columns, snap.Rows)
		}
	}

	rec := Record{
		Token:      uuid.NewString(),
		WorkflowID: req.WorkflowID,
		Sequence:   req.Sequence,
		SQLSha1:    req.SQLSha1,
		Instance:   req.Instance.Name,
		Schema:     req.Schema,
		Original:   req.Statement,
		Undo:       undo,
		Snapshot:   snap,
		CreatedAt:  s.now().UTC(),
	}
	if snap != nil {
		rec.RowCount = len(snap.Rows)
	}
	if err := s.insert(ctx, rec); err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("token", rec.Token).
		Str("workflow", rec.WorkflowID).
		Str("sequence", rec.Sequence).
		Int("rows", rec.RowCount).
		Bool("undo", undo != "").
		Msg("Backup captured")
	return rec.Token, nil
}

func (s *Store) snapshot(ctx context.Context, req services.CaptureRequest, query string) (*Snapshot, error) {
	if req.Session == nil {
		return nil, gerrors.New(gerrors.CodeInvalidRequest, "a session is required to snapshot rows")
	}
	rs, err := req.Session.Query(ctx, query, s.maxRows+1)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeStatementExecutionFailed, "failed to read rows for backup")
	}
	if rs.Failed() {
		return nil, gerrors.New(gerrors.CodeStatementExecutionFailed, "failed to read rows for backup: "+rs.Error)
	}
	if len(rs.Rows) > s.maxRows {
		return nil, gerrors.Newf(gerrors.CodeStatementRejected,
			"statement changes more than %d rows, too many to back up", s.maxRows)
	}
	return &Snapshot{Columns: rs.ColumnList, Rows: rs.Rows}, nil
}

func (s *Store) insert(ctx context.Context, rec Record) error {
	var snapshot sql.NullString
	if rec.Snapshot != nil {
		data, err := json.Marshal(rec.Snapshot)
		if err != nil {
			return gerrors.Wrap(err, gerrors.CodeInternal, "failed to encode snapshot")
		}
		snapshot = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backups (token, workflow_id, sequence, sql_sha1, instance_name, schema_name,
			original_sql, undo_sql, snapshot, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.WorkflowID, rec.Sequence, rec.SQLSha1, rec.Instance, rec.Schema,
		rec.Original, rec.Undo, snapshot, rec.RowCount, rec.CreatedAt)
	if err != nil {
		return gerrors.Wrap(err, gerrors.CodeInternal, "failed to store backup")
	}
	return nil
}

// RollbackStatementsFor returns the pairs of a workflow, most recent first.
func (s *Store) RollbackStatementsFor(ctx context.Context, workflowID string) ([]services.RollbackPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, original_sql, undo_sql FROM backups
		WHERE workflow_id = ? ORDER BY id DESC`, workflowID)
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to list backups")
	}
	defer rows.Close()

	var out []services.RollbackPair
	for rows.Next() {
		var p services.RollbackPair
		if err := rows.Scan(&p.Sequence, &p.Original, &p.Undo); err != nil {
			return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to read backup")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to list backups")
	}
	return out, nil
}

// Get returns the backup stored under token.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	var (
		rec      Record
		snapshot sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, workflow_id, sequence, sql_sha1, instance_name, schema_name,
			original_sql, undo_sql, snapshot, row_count, created_at
		FROM backups WHERE token = ?`, token).
		Scan(&rec.Token, &rec.WorkflowID, &rec.Sequence, &rec.SQLSha1, &rec.Instance, &rec.Schema,
			&rec.Original, &rec.Undo, &snapshot, &rec.RowCount, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gerrors.Newf(gerrors.CodeNotFound, "backup %s not found", token)
	}
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to read backup")
	}
	if snapshot.Valid {
		rec.Snapshot = &Snapshot{}
		if err := json.Unmarshal([]byte(snapshot.String), rec.Snapshot); err != nil {
			return nil, gerrors.Wrap(err, gerrors.CodeInternal, "failed to decode snapshot")
		}
	}
	return &rec, nil
}
