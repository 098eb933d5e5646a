package services

import (
	"fmt"
	"strings"

	"github.com/TFMV/sqlgate/pkg/engines"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// MsgNoValidStatement is reported when nothing executable is left after
// comments are stripped.
const MsgNoValidStatement = "no valid statement"

// QueryCheck verifies that sql is a single read-only statement for e. Only
// the first statement is kept; the rest of the text is ignored.
func QueryCheck(e engines.Engine, sql string) models.QueryCheckResult {
	if qc, ok := e.(engines.QueryChecker); ok {
		return qc.QueryCheck(sql)
	}

	d := e.Dialect()
	units, err := sqlparse.Split(sql, d)
	if err != nil {
		return models.QueryCheckResult{BadQuery: true, FilteredSQL: sql, Msg: err.Error()}
	}
	if len(units) == 0 {
		return models.QueryCheckResult{BadQuery: true, Msg: MsgNoValidStatement}
	}

	first := strings.TrimSpace(units[0])
	res := models.QueryCheckResult{
		FilteredSQL: first,
		HasStar:     sqlparse.HasStar(first, d),
	}

	verbs := e.ReadOnlyVerbs()
	if !sqlparse.StartsWithVerb(first, verbs) {
		res.BadQuery = true
		res.Msg = fmt.Sprintf("only %s statements are supported by the query feature", strings.Join(verbs, ", "))
		return res
	}
	switch kw := sqlparse.WriteKeyword(first, d); kw {
	case "":
	case "INTO":
		res.BadQuery = true
		res.Msg = "SELECT ... INTO writes data and is not allowed in queries"
	default:
		res.BadQuery = true
		res.Msg = fmt.Sprintf("statement writes data (%s) and is not allowed in queries", kw)
	}
	return res
}
