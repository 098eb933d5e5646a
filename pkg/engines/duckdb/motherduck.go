package duckdb

import (
	"net/url"
	"strings"
)

// isMotherDuck reports whether path names a MotherDuck database, written as
// md:db, motherduck:db or motherduck://db.
func isMotherDuck(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasPrefix(lower, "md:") || strings.HasPrefix(lower, "motherduck:")
}

// motherDuckPath rewrites path to the md:db form DuckDB understands and
// carries token as motherduck_token unless the path already sets one.
func motherDuckPath(path, token string) string {
	rest := path[strings.IndexByte(path, ':')+1:]
	rest = strings.TrimPrefix(rest, "//")

	db, rawQuery, _ := strings.Cut(rest, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		q = url.Values{}
	}
	if token != "" && q.Get("motherduck_token") == "" {
		q.Set("motherduck_token", token)
	}
	if len(q) == 0 {
		return "md:" + db
	}
	return "md:" + db + "?" + q.Encode()
}
