package sqlparse

import (
	"regexp"
	"strings"

	"github.com/TFMV/sqlgate/pkg/models"
)

// Action is what a statement does to its target object.
type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionAlter
	ActionDrop
	ActionWrite // INSERT, UPDATE, DELETE, TRUNCATE
)

// Target is the object a statement creates, alters, drops or writes to.
type Target struct {
	Action Action
	Object models.ObjectRef
	// Conditional is set for IF [NOT] EXISTS forms and CREATE OR REPLACE.
	Conditional bool
}

const qualifiedIdent = "((?:`[^`]+`|\"[^\"]+\"|\\[[^\\]]+\\]|[\\w$#@]+)(?:\\s*\\.\\s*(?:`[^`]+`|\"[^\"]+\"|\\[[^\\]]+\\]|[\\w$#@]+))?)"

var targetPatterns = []struct {
	action Action
	re     *regexp.Regexp
}{
	{ActionCreate, regexp.MustCompile(`(?is)^\s*CREATE\s+(OR\s+REPLACE\s+)?(?:(?:GLOBAL\s+|LOCAL\s+)?TEMP(?:ORARY)?\s+|UNLOGGED\s+|EXTERNAL\s+|MATERIALIZED\s+)*(TABLE|VIEW|SEQUENCE|SYNONYM)\s+(IF\s+NOT\s+EXISTS\s+)?` + qualifiedIdent)},
	{ActionAlter, regexp.MustCompile(`(?is)^\s*ALTER\s+(TABLE)\s+(?:ONLY\s+)?(IF\s+EXISTS\s+)?` + qualifiedIdent)},
	{ActionDrop, regexp.MustCompile(`(?is)^\s*DROP\s+(?:TEMPORARY\s+)?(TABLE|VIEW|SEQUENCE|SYNONYM)\s+(IF\s+EXISTS\s+)?` + qualifiedIdent)},
	{ActionWrite, regexp.MustCompile(`(?is)^\s*(?:INSERT|REPLACE)\s+(?:(?:LOW_PRIORITY|DELAYED|HIGH_PRIORITY|IGNORE)\s+)*(INTO)\s+()` + qualifiedIdent)},
	{ActionWrite, regexp.MustCompile(`(?is)^\s*(UPDATE)\s+(?:(?:LOW_PRIORITY|IGNORE|ONLY)\s+)*()` + qualifiedIdent)},
	{ActionWrite, regexp.MustCompile(`(?is)^\s*(DELETE)\s+(?:(?:LOW_PRIORITY|QUICK|IGNORE)\s+)*FROM\s+(?:ONLY\s+)?()` + qualifiedIdent)},
	{ActionWrite, regexp.MustCompile(`(?is)^\s*(TRUNCATE)\s+(?:TABLE\s+)?()` + qualifiedIdent)},
}

// ExtractTarget finds the object a statement acts on. The second return value
// is false when the statement has no recognisable target.
func ExtractTarget(sql string) (Target, bool) {
	for _, tp := range targetPatterns {
		m := tp.re.FindStringSubmatch(sql)
		if m == nil {
			continue
		}
		t := Target{Action: tp.action}
		var kind, cond, ident string
		if tp.action == ActionCreate {
			kind, cond, ident = m[2], m[1]+m[3], m[4]
		} else {
			kind, cond, ident = m[1], m[2], m[3]
		}
		t.Conditional = strings.TrimSpace(cond) != ""
		t.Object.Type = strings.ToUpper(kind)
		if tp.action == ActionWrite {
			t.Object.Type = "TABLE"
		}
		parts := splitIdent(strings.Join(strings.Fields(ident), ""))
		for i, p := range parts {
			parts[i], _ = Unquote(p)
		}
		if len(parts) > 1 {
			t.Object.Schema = parts[len(parts)-2]
		}
		t.Object.Name = parts[len(parts)-1]
		return t, true
	}
	return Target{}, false
}
