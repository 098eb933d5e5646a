package sqlparse

import (
	"regexp"
	"strings"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
)

// Option tunes Split.
type Option func(*scanner)

// WithKeepComments leaves comments in the returned units.
func WithKeepComments() Option {
	return func(s *scanner) { s.keepComments = true }
}

// plsqlOpener recognises units whose inner ';' must not split them.
var plsqlOpener = regexp.MustCompile(`(?is)^\s*(?:DECLARE|BEGIN|CREATE\s+(?:OR\s+REPLACE\s+)?(?:(?:NON)?EDITIONABLE\s+)?(?:PROCEDURE|FUNCTION|PACKAGE|TRIGGER|TYPE\s+BODY)\b)`)

// Split breaks a script into executable units. Quotes, parenthesis depth and
// the dialect's comment and terminator rules are honoured. Empty and
// comment-only units are dropped, and the terminating ';' is removed from
// plain statements.
func Split(text string, d Dialect, opts ...Option) ([]string, error) {
	s := &scanner{src: text, d: d, split: true}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.units, nil
}

// StripComments removes line and block comments outside quotes. Optimizer
// hints (/*+ ... */) and MySQL executable comments (/*! ... */) survive.
func StripComments(text string, d Dialect) (string, error) {
	s := &scanner{src: text, d: d}
	if err := s.run(); err != nil {
		return "", err
	}
	if len(s.units) == 0 {
		return "", nil
	}
	return s.units[0], nil
}

type scanner struct {
	src          string
	d            Dialect
	split        bool
	keepComments bool

	units []string
	cur   strings.Builder
	// plain mirrors cur without comments and decides the unit's opener.
	plain   strings.Builder
	hasCode bool
	depth   int
	opener  int // 0 unknown, 1 plsql block, 2 plain statement
}

func (s *scanner) run() error {
	src := s.src
	n := len(src)
	lineBlank := true

	for i := 0; i < n; {
		c := src[i]
		switch {
		case c == '\'' || c == '"' || (c == '`' && s.d.BacktickQuotes) || (c == '[' && s.d.BracketQuotes):
			end, err := s.quoted(i, c == '\'' && s.escapeString(i))
			if err != nil {
				return err
			}
			s.code(src[i:end])
			i = end
			lineBlank = false
			continue

		case c == '$' && s.d.DollarQuotes:
			if tag, ok := dollarTag(src, i); ok {
				j := strings.Index(src[i+len(tag):], tag)
				if j < 0 {
					return gerrors.Malformed(i, "unterminated dollar-quoted string")
				}
				end := i + len(tag) + j + len(tag)
				s.code(src[i:end])
				i = end
				lineBlank = false
				continue
			}

		case c == '-' && i+1 < n && src[i+1] == '-', c == '#' && s.d.HashComments:
			end := lineEnd(src, i)
			if s.keepComments {
				s.cur.WriteString(src[i:end])
			}
			s.plain.WriteByte(' ')
			i = end
			continue

		case c == '/' && i+1 < n && src[i+1] == '*':
			j := strings.Index(src[i+2:], "*/")
			if j < 0 {
				return gerrors.Malformed(i, "unterminated block comment")
			}
			end := i + 2 + j + 2
			hint := i+2 < n && (src[i+2] == '+' || src[i+2] == '!')
			switch {
			case hint:
				s.code(src[i:end])
				lineBlank = false
			case s.keepComments:
				s.cur.WriteString(src[i:end])
				s.plain.WriteByte(' ')
			default:
				s.blank(' ')
			}
			i = end
			continue

		case c == '/' && s.split && s.d.SlashTerminator && lineBlank && blankUntilEOL(src, i+1):
			if s.depth != 0 {
				return gerrors.Malformed(i, "unbalanced parentheses")
			}
			s.flush()
			i = lineEnd(src, i)
			continue

		case c == '(' || c == '{':
			s.depth++

		case c == ')' || c == '}':
			s.depth--
			if s.depth < 0 {
				return gerrors.Malformed(i, "unbalanced parentheses")
			}

		case c == ';' && s.split && s.depth == 0 && !s.inBlock():
			s.flush()
			i++
			lineBlank = false
			continue

		case c == '\n':
			lineBlank = true
			s.blank(c)
			i++
			continue
		}

		if isSpace(c) {
			s.blank(c)
		} else {
			s.code(string(c))
			lineBlank = false
		}
		i++
	}

	if s.depth != 0 {
		return gerrors.Malformed(n, "unbalanced parentheses")
	}
	s.flush()
	return nil
}

// code appends statement text that is not whitespace or a comment.
func (s *scanner) code(text string) {
	s.cur.WriteString(text)
	s.plain.WriteString(text)
	s.hasCode = true
}

func (s *scanner) blank(c byte) {
	s.cur.WriteByte(c)
	s.plain.WriteByte(c)
}

// escapeString reports whether the quote at i opens an E'...' literal.
func (s *scanner) escapeString(i int) bool {
	if !s.d.EscapeStrings || i == 0 || (s.src[i-1] != 'E' && s.src[i-1] != 'e') {
		return false
	}
	return i == 1 || !isWordByte(s.src[i-2]) && !(s.src[i-2] >= '0' && s.src[i-2] <= '9')
}

// inBlock reports whether the current unit is a PL/SQL block, which only a
// '/' line or the end of input terminates.
func (s *scanner) inBlock() bool {
	if !s.d.SlashTerminator {
		return false
	}
	if s.opener == 0 {
		if plsqlOpener.MatchString(s.plain.String()) {
			s.opener = 1
		} else {
			s.opener = 2
		}
	}
	return s.opener == 1
}

func (s *scanner) flush() {
	stmt := strings.TrimSpace(s.cur.String())
	if stmt != "" && s.hasCode {
		s.units = append(s.units, stmt)
	}
	s.cur.Reset()
	s.plain.Reset()
	s.hasCode = false
	s.opener = 0
}

// quoted returns the offset just past the literal or quoted identifier
// starting at i. escapes forces backslash escapes for E'...' literals.
func (s *scanner) quoted(i int, escapes bool) (int, error) {
	src := s.src
	open := src[i]
	closer := open
	if open == '[' {
		closer = ']'
	}
	for j := i + 1; j < len(src); j++ {
		switch {
		case src[j] == '\\' && (escapes || s.d.BackslashEscapes && open != '`' && open != '['):
			j++
		case src[j] == closer:
			if j+1 < len(src) && src[j+1] == closer && open != '[' {
				j++
				continue
			}
			return j + 1, nil
		}
	}
	return 0, gerrors.Malformed(i, "unterminated quoted string")
}

// dollarTag matches $$ or $name$ at i.
func dollarTag(src string, i int) (string, bool) {
	for j := i + 1; j < len(src); j++ {
		c := src[j]
		if c == '$' {
			return src[i : j+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > i+1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func lineEnd(src string, i int) int {
	if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
		return i + j
	}
	return len(src)
}

func blankUntilEOL(src string, i int) bool {
	for ; i < len(src) && src[i] != '\n'; i++ {
		if !isSpace(src[i]) {
			return false
		}
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == '\v'
}
