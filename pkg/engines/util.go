package engines

import (
	"strconv"
	"strings"
)

// QuoteIdent quotes an identifier with q, doubling embedded quote runes.
func QuoteIdent(ident string, q byte) string {
	s := string(q)
	return s + strings.ReplaceAll(ident, s, s+s) + s
}

// QuoteLiteral quotes a string literal for statements that take no bind
// parameters, such as SET and USE.
func QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// ToInt64 converts a scanned numeric cell to int64, returning 0 for
// anything that is not a number.
func ToInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		return n
	default:
		return 0
	}
}
