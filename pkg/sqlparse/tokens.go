package sqlparse

import "strings"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord   TokenKind = iota // keyword or bare identifier
	TokenIdent                   // quoted identifier
	TokenString                  // string literal
	TokenNumber
	TokenPunct
)

// Token is one lexical unit of a statement. Depth is the parenthesis nesting
// level the token sits at.
type Token struct {
	Kind   TokenKind
	Text   string
	Depth  int
	Offset int
}

// Tokenize produces the tokens of a statement, skipping whitespace and
// comments. It is lenient: an unterminated literal runs to the end of input.
func Tokenize(sql string, d Dialect) []Token {
	var toks []Token
	depth := 0
	n := len(sql)
	for i := 0; i < n; {
		c := sql[i]
		start := i
		switch {
		case isSpace(c):
			i++
			continue
		case c == '-' && i+1 < n && sql[i+1] == '-', c == '#' && d.HashComments:
			i = lineEnd(sql, i)
			continue
		case c == '/' && i+1 < n && sql[i+1] == '*':
			if j := strings.Index(sql[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = n
			}
			continue
		case c == '\'':
			i = skipQuoted(sql, i, '\'', d.BackslashEscapes)
			toks = append(toks, Token{TokenString, sql[start:i], depth, start})
		case (c == 'E' || c == 'e') && d.EscapeStrings && i+1 < n && sql[i+1] == '\'':
			i = skipQuoted(sql, i+1, '\'', true)
			toks = append(toks, Token{TokenString, sql[start:i], depth, start})
		case c == '"' || c == '`':
			i = skipQuoted(sql, i, c, false)
			toks = append(toks, Token{TokenIdent, sql[start:i], depth, start})
		case c == '[' && d.BracketQuotes:
			if j := strings.IndexByte(sql[i:], ']'); j >= 0 {
				i += j + 1
			} else {
				i = n
			}
			toks = append(toks, Token{TokenIdent, sql[start:i], depth, start})
		case isWordByte(c):
			for i < n && (isWordByte(sql[i]) || sql[i] >= '0' && sql[i] <= '9') {
				i++
			}
			toks = append(toks, Token{TokenWord, sql[start:i], depth, start})
		case c >= '0' && c <= '9':
			for i < n && (sql[i] >= '0' && sql[i] <= '9' || sql[i] == '.') {
				i++
			}
			toks = append(toks, Token{TokenNumber, sql[start:i], depth, start})
		default:
			if c == ')' && depth > 0 {
				depth--
			}
			toks = append(toks, Token{TokenPunct, string(c), depth, start})
			if c == '(' {
				depth++
			}
			i++
		}
	}
	return toks
}

func skipQuoted(sql string, i int, q byte, backslash bool) int {
	for j := i + 1; j < len(sql); j++ {
		switch {
		case backslash && sql[j] == '\\':
			j++
		case sql[j] == q:
			if j+1 < len(sql) && sql[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(sql)
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c == '@' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// Unquote strips identifier quoting. It reports whether the identifier was
// quoted.
func Unquote(ident string) (string, bool) {
	if len(ident) >= 2 {
		switch {
		case ident[0] == '"' && ident[len(ident)-1] == '"',
			ident[0] == '`' && ident[len(ident)-1] == '`',
			ident[0] == '[' && ident[len(ident)-1] == ']':
			return ident[1 : len(ident)-1], true
		}
	}
	return ident, false
}
