package engines

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// LimitStyle is how a backend caps the rows a read query returns.
type LimitStyle int

const (
	LimitNone   LimitStyle = iota
	LimitClause            // trailing LIMIT n
	LimitRownum            // Oracle ROWNUM wrapper
)

var (
	trailingLimit       = regexp.MustCompile(`(?is)\blimit\s+(\d+)\s*$`)
	trailingLimitOffset = regexp.MustCompile(`(?is)\blimit\s+(\d+)(\s+offset\s+\d+)\s*$`)
	trailingMySQLLimit  = regexp.MustCompile(`(?is)\blimit\s+(\d+)\s*,\s*(\d+)\s*$`)
	fetchFirst          = regexp.MustCompile(`(?is)\bfetch\s+(?:first|next)\s+\d+\s+rows?\s+only\s*$`)
)

// ApplyLimit rewrites a read query so it returns at most limit rows. Other
// statements and non-positive limits pass through unchanged apart from a
// trailing ';' being removed.
func ApplyLimit(style LimitStyle, sql string, limit int) string {
	sql = strings.TrimRight(strings.TrimSpace(sql), "; \t\r\n")
	if limit <= 0 || sqlparse.Classify(sql) != sqlparse.CategoryDQL {
		return sql
	}

	switch style {
	case LimitClause:
		if m := trailingMySQLLimit.FindStringSubmatchIndex(sql); m != nil {
			return replaceCount(sql, m[4], m[5], limit)
		}
		if m := trailingLimitOffset.FindStringSubmatchIndex(sql); m != nil {
			return replaceCount(sql, m[2], m[3], limit)
		}
		if m := trailingLimit.FindStringSubmatchIndex(sql); m != nil {
			return replaceCount(sql, m[2], m[3], limit)
		}
		return fmt.Sprintf("%s LIMIT %d", sql, limit)

	case LimitRownum:
		if fetchFirst.MatchString(sql) {
			return sql
		}
		return fmt.Sprintf("SELECT sqlgate_q.* FROM (%s) sqlgate_q WHERE ROWNUM <= %d", sql, limit)
	}
	return sql
}

// replaceCount lowers the row count at sql[start:end] to limit.
func replaceCount(sql string, start, end, limit int) string {
	n, err := strconv.Atoi(sql[start:end])
	if err == nil && n <= limit {
		return sql
	}
	return sql[:start] + strconv.Itoa(limit) + sql[end:]
}
