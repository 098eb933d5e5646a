package sqlparse

import (
	"regexp"
	"strings"

	"github.com/TFMV/sqlgate/pkg/models"
)

var (
	anonymousBlock = regexp.MustCompile(`(?is)^\s*(?:DECLARE|BEGIN)\b`)
	objectDef      = regexp.MustCompile(`(?is)^\s*CREATE(?:\s+OR\s+REPLACE)?(?:\s+(?:NON)?EDITIONABLE)?\s+(PROCEDURE|FUNCTION|PACKAGE\s+BODY|PACKAGE|TRIGGER|VIEW|TYPE\s+BODY|TYPE)\s+(\S+)`)
	blanks         = regexp.MustCompile(`\s+`)
)

// ClassifyItems turns split units into SQL items. Anonymous blocks and named
// PL/SQL object definitions become PLSQL items; everything else is SQL.
func ClassifyItems(units []string, defaultSchema string) []models.SQLItem {
	items := make([]models.SQLItem, 0, len(units))
	for _, unit := range units {
		items = append(items, classifyItem(unit, defaultSchema))
	}
	return items
}

func classifyItem(unit, defaultSchema string) models.SQLItem {
	if anonymousBlock.MatchString(unit) && !isTransactionStart(unit) {
		return models.SQLItem{
			Statement:   unit,
			StmtType:    models.StmtTypePLSQL,
			ObjectOwner: defaultSchema,
			ObjectType:  models.ObjectTypeAnonymous,
			ObjectName:  models.ObjectTypeAnonymous,
		}
	}
	if m := objectDef.FindStringSubmatch(unit); m != nil {
		owner, name := splitQualified(m[2])
		if owner == "" {
			owner = defaultSchema
		}
		return models.SQLItem{
			Statement:   unit,
			StmtType:    models.StmtTypePLSQL,
			ObjectOwner: owner,
			ObjectType:  strings.ToUpper(blanks.ReplaceAllString(m[1], " ")),
			ObjectName:  name,
		}
	}
	return models.SQLItem{Statement: unit, StmtType: models.StmtTypeSQL}
}

// isTransactionStart keeps a bare "BEGIN" / "BEGIN TRANSACTION" out of the
// anonymous block rule.
func isTransactionStart(unit string) bool {
	return Classify(unit) == CategoryTCL
}

// splitQualified separates owner and object name. Unquoted parts are upper
// cased; quoted parts keep their case.
func splitQualified(ident string) (string, string) {
	if i := strings.IndexByte(ident, '('); i >= 0 {
		ident = ident[:i]
	}
	parts := splitIdent(ident)
	for i, p := range parts {
		if s, quoted := Unquote(p); quoted {
			parts[i] = s
		} else {
			parts[i] = strings.ToUpper(p)
		}
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}

// splitIdent splits a dotted identifier, ignoring dots inside quotes.
func splitIdent(ident string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(ident); i++ {
		c := ident[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '`':
			quote = c
		case c == '[':
			quote = ']'
		case c == '.':
			parts = append(parts, ident[start:i])
			start = i + 1
		}
	}
	parts = append(parts, ident[start:])
	return parts
}

// SplitItems splits a script and classifies the resulting units.
func SplitItems(text string, d Dialect, defaultSchema string) ([]models.SQLItem, error) {
	units, err := Split(text, d)
	if err != nil {
		return nil, err
	}
	return ClassifyItems(units, defaultSchema), nil
}
