// Package models provides the value objects every engine produces and the
// configuration entities the audit and masking layers read.
package models

import (
	"time"
)

// ResultSet is the outcome of a read query.
type ResultSet struct {
	FullSQL      string   `json:"full_sql"`
	ColumnList   []string `json:"column_list"`
	ColumnTypes  []string `json:"column_types,omitempty"`
	Rows         [][]any  `json:"rows"`
	AffectedRows int64    `json:"affected_rows"`
	Error        string   `json:"error,omitempty"`
	// Truncated is set when a client-side limit cut rows off.
	Truncated   bool    `json:"truncated,omitempty"`
	IsMasked    bool    `json:"is_masked"`
	MaskRuleHit bool    `json:"mask_rule_hit"`
	MaskedCells int64   `json:"masked_cells,omitempty"`
	QueryTime   float64 `json:"query_time"`
}

// NewResultSet returns an empty result for sql.
func NewResultSet(sql string) *ResultSet {
	return &ResultSet{
		FullSQL:    sql,
		ColumnList: []string{},
		Rows:       [][]any{},
	}
}

// Fail records err and clears rows so the error invariant holds.
func (r *ResultSet) Fail(err error) *ResultSet {
	r.Error = err.Error()
	r.Rows = [][]any{}
	r.AffectedRows = 0
	return r
}

// Failed reports whether the query failed.
func (r *ResultSet) Failed() bool {
	return r.Error != ""
}

// Limit truncates rows to n when n is positive and keeps AffectedRows in sync.
func (r *ResultSet) Limit(n int) {
	if n > 0 && len(r.Rows) > n {
		r.Rows = r.Rows[:n]
		r.Truncated = true
	}
	r.AffectedRows = int64(len(r.Rows))
}

// ColumnIndex returns the index of the named column or -1.
func (r *ResultSet) ColumnIndex(name string) int {
	for i, c := range r.ColumnList {
		if c == name {
			return i
		}
	}
	return -1
}

// QueryCheckResult is the verdict of the lightweight read-only check.
type QueryCheckResult struct {
	BadQuery    bool   `json:"bad_query"`
	FilteredSQL string `json:"filtered_sql"`
	Msg         string `json:"msg"`
	HasStar     bool   `json:"has_star"`
}

// QueryRequest is a read query submitted against one instance.
type QueryRequest struct {
	Instance Instance      `json:"instance"`
	Schema   string        `json:"schema"`
	SQL      string        `json:"sql"`
	Limit    int           `json:"limit,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// ExplainResult is a plan summary returned by an engine planner.
type ExplainResult struct {
	Backend       string `json:"backend"`
	PlanSummary   string `json:"plan_summary"`
	EstimatedRows int64  `json:"estimated_rows"`
}
