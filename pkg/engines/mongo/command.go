package mongo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
)

// Command is one parsed shell-style statement:
//
//	db.<collection>.<method>(<args>)[.sort(<doc>)][.skip(n)][.limit(n)]
//	show dbs | show collections
type Command struct {
	Raw        string
	Show       string
	Collection string
	Method     string
	Args       bson.A
	Sort       bson.D
	Skip       int64
	Limit      int64
}

type methodKind int

const (
	kindRead methodKind = iota
	kindWrite
	kindDDL
)

var methods = map[string]methodKind{
	"find":                   kindRead,
	"findOne":                kindRead,
	"count":                  kindRead,
	"countDocuments":         kindRead,
	"distinct":               kindRead,
	"aggregate":              kindRead,
	"insertOne":              kindWrite,
	"insertMany":             kindWrite,
	"updateOne":              kindWrite,
	"updateMany":             kindWrite,
	"replaceOne":             kindWrite,
	"deleteOne":              kindWrite,
	"deleteMany":             kindWrite,
	"drop":                   kindDDL,
	"createIndex":            kindDDL,
	"dropIndex":              kindDDL,
	"renameCollection":       kindDDL,
	"createCollection":       kindDDL,
	"estimatedDocumentCount": kindRead,
}

// ReadOnly reports whether the command only reads. Aggregations writing
// through $out or $merge are writes.
func (c *Command) ReadOnly() bool {
	if c.Show != "" {
		return true
	}
	if methods[c.Method] != kindRead {
		return false
	}
	if c.Method == "aggregate" && len(c.Args) > 0 {
		if pipeline, ok := c.Args[0].(bson.A); ok {
			for _, stage := range pipeline {
				if d, ok := stage.(bson.D); ok && len(d) > 0 && (d[0].Key == "$out" || d[0].Key == "$merge") {
					return false
				}
			}
		}
	}
	return true
}

// IsDDL reports whether the command changes collection structure.
func (c *Command) IsDDL() bool {
	return c.Show == "" && methods[c.Method] == kindDDL
}

// ParseCommand parses one statement. Arguments are Extended JSON, so keys
// must be quoted.
func ParseCommand(stmt string) (*Command, error) {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
	cmd := &Command{Raw: raw}

	if fields := strings.Fields(raw); len(fields) == 2 && strings.EqualFold(fields[0], "show") {
		switch what := strings.ToLower(fields[1]); what {
		case "dbs", "databases":
			cmd.Show = "dbs"
		case "collections", "tables":
			cmd.Show = "collections"
		default:
			return nil, gerrors.Newf(gerrors.CodeMalformedStatement, "unsupported show target %q", fields[1])
		}
		return cmd, nil
	}

	if !strings.HasPrefix(raw, "db.") {
		return nil, gerrors.New(gerrors.CodeMalformedStatement, "command must start with db.")
	}
	rest := raw[3:]
	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return nil, gerrors.New(gerrors.CodeMalformedStatement, "missing method call")
	}
	dot := strings.LastIndexByte(rest[:open], '.')
	if dot <= 0 {
		return nil, gerrors.New(gerrors.CodeMalformedStatement, "missing collection name")
	}
	cmd.Collection = rest[:dot]
	cmd.Method = rest[dot+1 : open]
	if _, ok := methods[cmd.Method]; !ok {
		return nil, gerrors.Newf(gerrors.CodeMalformedStatement, "unsupported method %q", cmd.Method)
	}

	args, tail, err := callArgs(rest, open)
	if err != nil {
		return nil, err
	}
	if cmd.Args, err = parseArgs(args); err != nil {
		return nil, err
	}

	for tail != "" {
		if tail[0] != '.' {
			return nil, gerrors.Newf(gerrors.CodeMalformedStatement, "unexpected %q after call", tail)
		}
		open := strings.IndexByte(tail, '(')
		if open < 0 {
			return nil, gerrors.New(gerrors.CodeMalformedStatement, "missing chained call")
		}
		name := tail[1:open]
		var a string
		a, tail, err = callArgs(tail, open)
		if err != nil {
			return nil, err
		}
		if err := cmd.chain(name, a); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func (c *Command) chain(name, args string) error {
	if c.Method != "find" && c.Method != "aggregate" {
		return gerrors.Newf(gerrors.CodeMalformedStatement, "%s cannot be chained after %s", name, c.Method)
	}
	switch name {
	case "sort":
		a, err := parseArgs(args)
		if err != nil {
			return err
		}
		if len(a) != 1 {
			return gerrors.New(gerrors.CodeMalformedStatement, "sort takes one document")
		}
		d, ok := a[0].(bson.D)
		if !ok {
			return gerrors.New(gerrors.CodeMalformedStatement, "sort takes one document")
		}
		c.Sort = d
	case "limit", "skip":
		n, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
		if err != nil || n < 0 {
			return gerrors.Newf(gerrors.CodeMalformedStatement, "%s takes a non-negative integer", name)
		}
		if name == "limit" {
			c.Limit = n
		} else {
			c.Skip = n
		}
	default:
		return gerrors.Newf(gerrors.CodeMalformedStatement, "unsupported cursor method %q", name)
	}
	return nil
}

// callArgs returns the text between the parenthesis at open and its match,
// and what follows the match.
func callArgs(s string, open int) (string, string, error) {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				if c != ')' {
					return "", "", gerrors.Malformed(i, "unbalanced brackets")
				}
				return s[open+1 : i], strings.TrimSpace(s[i+1:]), nil
			}
		}
	}
	if quote != 0 {
		return "", "", gerrors.Malformed(len(s), "unterminated string")
	}
	return "", "", gerrors.Malformed(len(s), "unbalanced brackets")
}

func parseArgs(args string) (bson.A, error) {
	if strings.TrimSpace(args) == "" {
		return bson.A{}, nil
	}
	var wrapper struct {
		A bson.A `bson:"a"`
	}
	if err := bson.UnmarshalExtJSON([]byte(`{"a":[`+args+`]}`), false, &wrapper); err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeMalformedStatement, "arguments are not valid extended JSON")
	}
	return wrapper.A, nil
}

func (c *Command) doc(i int) (bson.D, error) {
	if i >= len(c.Args) {
		return bson.D{}, nil
	}
	d, ok := c.Args[i].(bson.D)
	if !ok {
		return nil, gerrors.Newf(gerrors.CodeMalformedStatement, "%s argument %d must be a document", c.Method, i+1)
	}
	return d, nil
}

func (c *Command) str(i int) (string, error) {
	if i < len(c.Args) {
		if s, ok := c.Args[i].(string); ok {
			return s, nil
		}
	}
	return "", gerrors.Newf(gerrors.CodeMalformedStatement, "%s argument %d must be a string", c.Method, i+1)
}

// SplitCommands cuts a script into statements at top level ';' and at line
// breaks followed by a new db. or show statement. Line comments starting
// with // are dropped.
func SplitCommands(script string) ([]string, error) {
	var (
		out   []string
		cur   strings.Builder
		depth int
		quote byte
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		if quote != 0 {
			cur.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(script) {
					i++
					cur.WriteByte(script[i])
				}
			case quote:
				quote = 0
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == '/' && i+1 < len(script) && script[i+1] == '/':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			i--
		case c == '(' || c == '[' || c == '{':
			depth++
			cur.WriteByte(c)
		case c == ')' || c == ']' || c == '}':
			depth--
			if depth < 0 {
				return nil, gerrors.Malformed(i, "unbalanced brackets")
			}
			cur.WriteByte(c)
		case c == ';' && depth == 0:
			flush()
		case c == '\n' && depth == 0 && startsStatement(script[i+1:]):
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, gerrors.Malformed(len(script), "unterminated string")
	}
	if depth != 0 {
		return nil, gerrors.Malformed(len(script), "unbalanced brackets")
	}
	flush()
	return out, nil
}

func startsStatement(s string) bool {
	s = strings.TrimLeft(s, " \t\r\n")
	return strings.HasPrefix(s, "db.") || strings.HasPrefix(strings.ToLower(s), "show ")
}

var limitCall = regexp.MustCompile(`\.limit\(\s*\d+\s*\)\s*$`)

// applyLimit appends or lowers a cursor limit on find and aggregate.
func applyLimit(stmt string, limit int) string {
	cmd, err := ParseCommand(stmt)
	if err != nil || limit <= 0 || (cmd.Method != "find" && cmd.Method != "aggregate") {
		return stmt
	}
	switch {
	case cmd.Limit > 0 && cmd.Limit <= int64(limit):
		return cmd.Raw
	case limitCall.MatchString(cmd.Raw):
		return limitCall.ReplaceAllString(cmd.Raw, fmt.Sprintf(".limit(%d)", limit))
	default:
		return cmd.Raw + fmt.Sprintf(".limit(%d)", limit)
	}
}
