package models

import "fmt"

// ErrLevel grades one review row.
type ErrLevel int

const (
	ErrLevelOK      ErrLevel = 0
	ErrLevelWarning ErrLevel = 1
	ErrLevelError   ErrLevel = 2
)

// String returns the string representation of the level.
func (l ErrLevel) String() string {
	switch l {
	case ErrLevelOK:
		return "ok"
	case ErrLevelWarning:
		return "warning"
	case ErrLevelError:
		return "error"
	default:
		return "unknown"
	}
}

// SyntaxType classifies a whole script.
type SyntaxType int

const (
	SyntaxTypeOther SyntaxType = 0
	SyntaxTypeDDL   SyntaxType = 1
	SyntaxTypeDML   SyntaxType = 2
)

// Stage status labels.
const (
	StageAuditCompleted   = "Audit completed"
	StageExecuted         = "Execute Successfully"
	StageExecuteFailed    = "Execute Failed"
	StageNotExecuted      = "not executed, preceding statement failed"
	StageNotAudited       = "not audited, preceding statement is critical"
	StageRejected         = "Rejected"
	StageBackupFailed     = "Backup Failed"
	StageConnectionFailed = "Connection Failed"
)

// ReviewResult is one row of an audit or execution report.
type ReviewResult struct {
	ID           int      `json:"id"`
	ErrLevel     ErrLevel `json:"errlevel"`
	StageStatus  string   `json:"stagestatus"`
	ErrorMessage string   `json:"errormessage"`
	SQL          string   `json:"sql"`
	AffectedRows int64    `json:"affected_rows"`
	ExecuteTime  float64  `json:"execute_time"`

	Sequence     string `json:"sequence,omitempty"`
	BackupDBName string `json:"backup_dbname,omitempty"`
	SQLSha1      string `json:"sqlsha1,omitempty"`
	StmtType     string `json:"stmt_type,omitempty"`
	ObjectOwner  string `json:"object_owner,omitempty"`
	ObjectType   string `json:"object_type,omitempty"`
	ObjectName   string `json:"object_name,omitempty"`
}

// AddMessage appends msg to the row's error message and raises the level.
func (r *ReviewResult) AddMessage(level ErrLevel, msg string) {
	if level > r.ErrLevel {
		r.ErrLevel = level
	}
	if r.ErrorMessage == "" {
		r.ErrorMessage = msg
		return
	}
	r.ErrorMessage = r.ErrorMessage + "; " + msg
}

// ReviewSet aggregates the rows of one check or execute call.
type ReviewSet struct {
	FullSQL      string          `json:"full_sql"`
	Rows         []*ReviewResult `json:"rows"`
	WarningCount int             `json:"warning_count"`
	ErrorCount   int             `json:"error_count"`
	Error        string          `json:"error,omitempty"`
	SyntaxType   SyntaxType      `json:"syntax_type"`
	IsCritical   bool            `json:"is_critical"`
}

// NewReviewSet returns an empty report for script.
func NewReviewSet(script string) *ReviewSet {
	return &ReviewSet{
		FullSQL: script,
		Rows:    []*ReviewResult{},
	}
}

// Append adds r as the next row, assigning its 1-based id.
func (s *ReviewSet) Append(r *ReviewResult) *ReviewResult {
	r.ID = len(s.Rows) + 1
	s.Rows = append(s.Rows, r)
	return r
}

// Recount derives the warning and error counts from the rows.
func (s *ReviewSet) Recount() {
	s.WarningCount, s.ErrorCount = 0, 0
	for _, r := range s.Rows {
		switch r.ErrLevel {
		case ErrLevelWarning:
			s.WarningCount++
		case ErrLevelError:
			s.ErrorCount++
		}
	}
}

// Failed reports whether the set carries a top-level error or any error row.
func (s *ReviewSet) Failed() bool {
	if s.Error != "" {
		return true
	}
	for _, r := range s.Rows {
		if r.ErrLevel == ErrLevelError {
			return true
		}
	}
	return false
}

// AffectedRows sums affected rows across all rows.
func (s *ReviewSet) AffectedRows() int64 {
	var total int64
	for _, r := range s.Rows {
		total += r.AffectedRows
	}
	return total
}

// String summarizes the set for logs.
func (s *ReviewSet) String() string {
	return fmt.Sprintf("rows=%d warnings=%d errors=%d critical=%t", len(s.Rows), s.WarningCount, s.ErrorCount, s.IsCritical)
}
