package backup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// Plan is what capturing a statement involves.
type Plan struct {
	// Undo is an inverse known from the statement text alone.
	Undo string
	// SnapshotSQL reads the rows the statement is about to change.
	SnapshotSQL string
	// Restore builds the undo from the snapshot as an INSERT into Table.
	Restore bool
	Table   string
}

var addColumn = regexp.MustCompile("(?is)^\\s*ALTER\\s+TABLE\\s+(?:ONLY\\s+)?\\S+\\s+ADD\\s+(?:COLUMN\\s+)?((?:`[^`]+`|\"[^\"]+\"|[\\w$#]+))(\\s|$)")

// words after ADD that start something other than a column definition
var addNonColumn = map[string]bool{
	"CONSTRAINT": true, "INDEX": true, "KEY": true, "PRIMARY": true, "UNIQUE": true,
	"FOREIGN": true, "CHECK": true, "FULLTEXT": true, "SPATIAL": true, "PARTITION": true,
	"IF": true, // ADD COLUMN IF NOT EXISTS may find the column present
}

// Derive plans the backup of stmt. A zero Plan means nothing can be
// captured.
func Derive(stmt string, d sqlparse.Dialect) Plan {
	target, ok := sqlparse.ExtractTarget(stmt)
	if !ok {
		return Plan{}
	}
	table := qualify(d, target.Object)

	switch target.Action {
	case sqlparse.ActionCreate:
		if target.Conditional {
			// the object may have existed before
			return Plan{}
		}
		switch target.Object.Type {
		case "TABLE", "VIEW", "SEQUENCE":
			return Plan{Undo: "DROP " + target.Object.Type + " " + table}
		}

	case sqlparse.ActionAlter:
		if topLevelCommas(stmt, d) > 0 {
			return Plan{}
		}
		m := addColumn.FindStringSubmatch(stmt)
		if m == nil || addNonColumn[strings.ToUpper(m[1])] {
			return Plan{}
		}
		col, _ := sqlparse.Unquote(m[1])
		return Plan{Undo: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, quoteIdent(d, col))}

	case sqlparse.ActionWrite:
		switch sqlparse.Verb(stmt) {
		case "DELETE":
			return Plan{SnapshotSQL: "SELECT * FROM " + table + whereClause(stmt, d), Restore: true, Table: table}
		case "TRUNCATE":
			return Plan{SnapshotSQL: "SELECT * FROM " + table, Restore: true, Table: table}
		case "UPDATE":
			return Plan{SnapshotSQL: "SELECT * FROM " + table + whereClause(stmt, d), Table: table}
		}
	}
	return Plan{}
}

// whereClause returns the statement's top-level WHERE and everything after
// it, with a leading space, or "".
func whereClause(stmt string, d sqlparse.Dialect) string {
	for _, tok := range sqlparse.Tokenize(stmt, d) {
		if tok.Kind == sqlparse.TokenWord && tok.Depth == 0 && strings.EqualFold(tok.Text, "WHERE") {
			return " " + strings.TrimSpace(stmt[tok.Offset:])
		}
	}
	return ""
}

func topLevelCommas(stmt string, d sqlparse.Dialect) int {
	n := 0
	for _, tok := range sqlparse.Tokenize(stmt, d) {
		if tok.Kind == sqlparse.TokenPunct && tok.Depth == 0 && tok.Text == "," {
			n++
		}
	}
	return n
}

// InsertStatement renders rows as one multi-row INSERT into table. It
// returns "" when there are no rows.
func InsertStatement(d sqlparse.Dialect, table string, columns []string, rows [][]any) string {
	if len(rows) == 0 || len(columns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(d, c))
	}
	b.WriteString(") VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(Literal(d, v))
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Literal renders v as a SQL literal.
func Literal(d sqlparse.Dialect, v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteString(d, x)
	case []byte:
		return quoteString(d, string(x))
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return quoteString(d, x.Format("2006-01-02 15:04:05.999999999"))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return quoteString(d, fmt.Sprint(x))
	}
}

func quoteString(d sqlparse.Dialect, s string) string {
	if d.BackslashEscapes {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$#]*$`)

// quoteIdent leaves plain names unquoted so they keep the server's case
// folding.
func quoteIdent(d sqlparse.Dialect, name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	if d.BacktickQuotes {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualify(d sqlparse.Dialect, obj models.ObjectRef) string {
	if obj.Schema == "" {
		return quoteIdent(d, obj.Name)
	}
	return quoteIdent(d, obj.Schema) + "." + quoteIdent(d, obj.Name)
}
