package sqlparse

import (
	"regexp"
	"strings"
)

// Category is the broad class of a SQL statement.
type Category int

const (
	CategoryOther   Category = iota
	CategoryDDL              // CREATE, DROP, ALTER, TRUNCATE, RENAME
	CategoryDML              // INSERT, UPDATE, DELETE, REPLACE, MERGE
	CategoryDQL              // SELECT, WITH...SELECT, VALUES
	CategoryTCL              // COMMIT, ROLLBACK, SAVEPOINT
	CategoryDCL              // GRANT, REVOKE
	CategoryUtility          // SHOW, DESCRIBE, EXPLAIN, SET, USE
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryDDL:
		return "DDL"
	case CategoryDML:
		return "DML"
	case CategoryDQL:
		return "DQL"
	case CategoryTCL:
		return "TCL"
	case CategoryDCL:
		return "DCL"
	case CategoryUtility:
		return "UTILITY"
	default:
		return "OTHER"
	}
}

// Writes reports whether statements of this category change data or schema.
func (c Category) Writes() bool {
	return c == CategoryDDL || c == CategoryDML || c == CategoryDCL
}

type categoryPatterns struct {
	category Category
	patterns []*regexp.Regexp
}

// Checked in order: DCL before DDL so CREATE USER is a grant-style statement,
// DQL before utility so WITH ... SELECT is not mistaken for anything else.
var categories = []categoryPatterns{
	{CategoryDCL, compileAll(
		`(?is)^\s*GRANT\s+`,
		`(?is)^\s*REVOKE\s+`,
		`(?is)^\s*DENY\s+`,
		`(?is)^\s*(?:CREATE|DROP|ALTER)\s+(?:USER|ROLE)\s+`,
	)},
	{CategoryDDL, compileAll(
		`(?is)^\s*CREATE\s+`,
		`(?is)^\s*DROP\s+`,
		`(?is)^\s*ALTER\s+`,
		`(?is)^\s*TRUNCATE\s+`,
		`(?is)^\s*COMMENT\s+ON\s+`,
		`(?is)^\s*RENAME\s+`,
	)},
	{CategoryDML, compileAll(
		`(?is)^\s*INSERT\s+`,
		`(?is)^\s*UPDATE\s+`,
		`(?is)^\s*DELETE\s+`,
		`(?is)^\s*REPLACE\s+`,
		`(?is)^\s*MERGE\s+`,
		`(?is)^\s*UPSERT\s+`,
		`(?is)^\s*COPY\s+.*\s+FROM\s+`,
		`(?is)^\s*(?:DECLARE|BEGIN)\b.*\bEND\b`,
		`(?is)^\s*(?:CALL|EXEC|EXECUTE)\s+`,
	)},
	{CategoryDQL, compileAll(
		`(?is)^\s*SELECT\b`,
		`(?is)^\s*WITH\s+.*\bSELECT\b`,
		`(?is)^\s*\(\s*SELECT\s+`,
		`(?is)^\s*VALUES\s*\(`,
		`(?is)^\s*TABLE\s+`,
	)},
	{CategoryTCL, compileAll(
		`(?is)^\s*BEGIN\s*(?:TRANSACTION|WORK)?\s*$`,
		`(?is)^\s*START\s+TRANSACTION\b`,
		`(?is)^\s*COMMIT\b`,
		`(?is)^\s*ROLLBACK\b`,
		`(?is)^\s*SAVEPOINT\s+`,
		`(?is)^\s*RELEASE\s+SAVEPOINT\s+`,
		`(?is)^\s*SET\s+TRANSACTION\s+`,
	)},
	{CategoryUtility, compileAll(
		`(?is)^\s*SHOW\s+`,
		`(?is)^\s*DESCRIBE\s+`,
		`(?is)^\s*DESC\s+`,
		`(?is)^\s*EXPLAIN\s+`,
		`(?is)^\s*ANALYZE\s+`,
		`(?is)^\s*SET\s+`,
		`(?is)^\s*USE\s+`,
		`(?is)^\s*PRAGMA\s+`,
		`(?is)^\s*VACUUM\b`,
		`(?is)^\s*CHECKPOINT\b`,
		`(?is)^\s*ATTACH\s+`,
		`(?is)^\s*DETACH\s+`,
	)},
}

// dangerousPatterns flag statements that are destructive beyond their target.
var dangerousPatterns = compileAll(
	`(?i)\bDROP\s+(?:DATABASE|SCHEMA)\b`,
	`(?i)\bDELETE\s+FROM\s+.*\bWHERE\s+1\s*=\s*1\b`,
	`(?i)\bUPDATE\s+.*\bSET\s+.*\bWHERE\s+1\s*=\s*1\b`,
	`(?i)\bSHUTDOWN\b`,
	`(?i)^\s*KILL\s+`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Classify returns the category of a single statement. A WITH query takes
// the category of the statement its CTE list introduces.
func Classify(sql string) Category {
	if Verb(sql) == "WITH" {
		switch MainVerb(sql, DialectGeneric) {
		case "INSERT", "UPDATE", "DELETE", "MERGE", "REPLACE", "UPSERT":
			return CategoryDML
		}
	}
	for _, cp := range categories {
		for _, p := range cp.patterns {
			if p.MatchString(sql) {
				return cp.category
			}
		}
	}
	return CategoryOther
}

// IsDangerous reports whether the statement matches a built-in destructive
// pattern regardless of any configured policy.
func IsDangerous(sql string) bool {
	for _, p := range dangerousPatterns {
		if p.MatchString(sql) {
			return true
		}
	}
	return false
}

// Verb returns the upper-cased first keyword of a statement.
func Verb(sql string) string {
	for _, tok := range Tokenize(sql, DialectGeneric) {
		if tok.Kind == TokenWord {
			return strings.ToUpper(tok.Text)
		}
		if tok.Kind != TokenPunct || tok.Text != "(" {
			return ""
		}
	}
	return ""
}

// StartsWithVerb reports whether the first keyword is one of verbs. Verbs are
// compared case-insensitively.
func StartsWithVerb(sql string, verbs []string) bool {
	v := Verb(sql)
	if v == "" {
		return false
	}
	for _, allowed := range verbs {
		if strings.EqualFold(v, allowed) {
			return true
		}
	}
	return false
}

// IsReadOnly reports whether the statement only reads data.
func IsReadOnly(sql string, d Dialect) bool {
	switch Classify(sql) {
	case CategoryDQL:
		return WriteKeyword(sql, d) == ""
	case CategoryUtility:
		switch Verb(sql) {
		case "SHOW", "DESC", "DESCRIBE", "EXPLAIN":
			return WriteKeyword(sql, d) == ""
		}
	}
	return false
}

// statementVerbs open the statement that follows a CTE list.
var statementVerbs = map[string]bool{
	"SELECT": true, "VALUES": true, "TABLE": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "REPLACE": true, "UPSERT": true,
}

// MainVerb returns the verb of the statement a WITH clause introduces, or
// Verb(sql) for any other statement.
func MainVerb(sql string, d Dialect) string {
	toks := Tokenize(sql, d)
	for i, tok := range toks {
		if tok.Kind != TokenWord {
			continue
		}
		if !strings.EqualFold(tok.Text, "WITH") {
			return strings.ToUpper(tok.Text)
		}
		for _, next := range toks[i+1:] {
			if next.Kind == TokenWord && next.Depth == tok.Depth && statementVerbs[strings.ToUpper(next.Text)] {
				return strings.ToUpper(next.Text)
			}
		}
		return ""
	}
	return ""
}

// WriteKeyword returns the first keyword that makes a reading statement
// change data, looking inside CTE bodies and subqueries too: a
// data-modifying CTE or main statement, SELECT ... INTO, or EXPLAIN ANALYZE
// of a write. SHOW and DESCRIBE never write. It returns "" for a statement
// that only reads.
func WriteKeyword(sql string, d Dialect) string {
	toks := Tokenize(sql, d)
	verb := ""
	for _, tok := range toks {
		if tok.Kind == TokenWord {
			verb = strings.ToUpper(tok.Text)
			break
		}
	}
	switch verb {
	case "SHOW", "DESC", "DESCRIBE":
		return ""
	case "EXPLAIN":
		if !explainAnalyzes(toks) {
			return ""
		}
	}
	if selectInto.MatchString(sql) {
		return "INTO"
	}

	word := func(i int) string {
		if i < 0 || i >= len(toks) || toks[i].Kind != TokenWord {
			return ""
		}
		return strings.ToUpper(toks[i].Text)
	}
	for i, tok := range toks {
		if tok.Kind != TokenWord {
			continue
		}
		switch w := strings.ToUpper(tok.Text); w {
		case "DELETE", "UPSERT", "CREATE", "DROP", "ALTER", "GRANT", "REVOKE", "RENAME":
			return w
		case "UPDATE":
			// SELECT ... FOR UPDATE locks rows without changing them
			if p := word(i - 1); p != "FOR" && p != "KEY" {
				return w
			}
		case "INSERT", "TRUNCATE":
			// INSERT() and TRUNCATE() are also MySQL functions
			if i+1 >= len(toks) || toks[i+1].Text != "(" {
				return w
			}
		case "MERGE", "REPLACE":
			if word(i+1) == "INTO" {
				return w
			}
		}
	}
	return ""
}

// explainAnalyzes reports whether an EXPLAIN runs the statement it explains,
// as EXPLAIN ANALYZE and EXPLAIN (ANALYZE, ...) do.
func explainAnalyzes(toks []Token) bool {
	for _, tok := range toks[1:] {
		if tok.Kind != TokenWord {
			continue
		}
		w := strings.ToUpper(tok.Text)
		if w == "ANALYZE" || w == "ANALYSE" {
			return true
		}
		if statementVerbs[w] || w == "WITH" {
			return false
		}
	}
	return false
}

var selectInto = regexp.MustCompile("(?is)^\\s*SELECT\\b.*\\bINTO\\s+(?:OUTFILE\\b|DUMPFILE\\b|[\\w.\"`]+\\s+FROM\\b)")

// HasTopLevelWhere reports whether a WHERE keyword appears outside of any
// parenthesised subquery or literal.
func HasTopLevelWhere(sql string, d Dialect) bool {
	for _, tok := range Tokenize(sql, d) {
		if tok.Kind == TokenWord && tok.Depth == 0 && strings.EqualFold(tok.Text, "WHERE") {
			return true
		}
	}
	return false
}

// HasStar reports whether a bare '*' appears outside literals. COUNT(*) is a
// known false positive.
func HasStar(sql string, d Dialect) bool {
	for _, tok := range Tokenize(sql, d) {
		if tok.Kind == TokenPunct && tok.Text == "*" {
			return true
		}
	}
	return false
}
