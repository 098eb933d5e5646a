package redis

import (
	"strings"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
)

var readCommands = toSet(
	"GET", "MGET", "GETRANGE", "STRLEN", "EXISTS", "TYPE", "TTL", "PTTL",
	"HGET", "HMGET", "HGETALL", "HKEYS", "HVALS", "HLEN", "HEXISTS", "HSCAN",
	"LRANGE", "LLEN", "LINDEX",
	"SMEMBERS", "SISMEMBER", "SCARD", "SSCAN", "SRANDMEMBER",
	"ZRANGE", "ZRANGEBYSCORE", "ZREVRANGE", "ZREVRANGEBYSCORE", "ZSCORE", "ZCARD", "ZCOUNT", "ZRANK", "ZSCAN",
	"XRANGE", "XREVRANGE", "XLEN",
	"KEYS", "SCAN", "DBSIZE", "INFO", "PING", "OBJECT", "MEMORY",
)

var deniedCommands = toSet(
	"FLUSHALL", "FLUSHDB", "SHUTDOWN", "CONFIG", "DEBUG", "SAVE", "BGSAVE",
	"BGREWRITEAOF", "SLAVEOF", "REPLICAOF", "MIGRATE", "SCRIPT", "MODULE",
	"CLUSTER", "ACL", "MONITOR", "SYNC", "PSYNC", "SELECT", "SWAPDB", "CLIENT",
)

func toSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Name returns the upper-cased command name of args.
func Name(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToUpper(args[0])
}

// IsRead reports whether the command only reads.
func IsRead(args []string) bool { return readCommands[Name(args)] }

// IsDenied reports whether the command is never allowed through the gateway.
func IsDenied(args []string) bool { return deniedCommands[Name(args)] }

// SplitCommands returns one command per non-blank line. Lines starting with
// # are comments.
func SplitCommands(script string) []string {
	var out []string
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.TrimSuffix(line, ";"))
	}
	return out
}

// ParseArgs splits a command line into arguments the way redis-cli does:
// whitespace separated, with single or double quoted arguments. Double
// quotes accept backslash escapes.
func ParseArgs(line string) ([]string, error) {
	var (
		args []string
		cur  strings.Builder
		in   bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' || c == '\'':
			q := c
			i++
			for ; i < len(line) && line[i] != q; i++ {
				if line[i] == '\\' && q == '"' && i+1 < len(line) {
					i++
					cur.WriteByte(unescape(line[i]))
					continue
				}
				cur.WriteByte(line[i])
			}
			if i >= len(line) {
				return nil, gerrors.Malformed(len(line), "unterminated quoted argument")
			}
			in = true
		case c == ' ' || c == '\t':
			if in {
				args = append(args, cur.String())
				cur.Reset()
				in = false
			}
		default:
			cur.WriteByte(c)
			in = true
		}
	}
	if in {
		args = append(args, cur.String())
	}
	return args, nil
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}
