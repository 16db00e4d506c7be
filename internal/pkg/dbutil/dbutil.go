// Package dbutil adapts gendry-built SQL (MySQL placeholder style) to the
// postgres driver. sqlite consumes gendry output as is.
package dbutil

import (
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

var mysqlLimit = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize rewrites the LIMIT clause to postgres form and rebinds `?`
// placeholders to `$N`.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	query = rewriteLimit(query, args)
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

// rewriteLimit turns gendry's `LIMIT offset, count` into
// `LIMIT count OFFSET offset`, swapping the two bound args to match.
func rewriteLimit(query string, args []interface{}) string {
	loc := mysqlLimit.FindStringIndex(query)
	if loc == nil {
		return query
	}
	offsetIdx := strings.Count(query[:loc[0]], "?")
	if offsetIdx+1 >= len(args) {
		return query
	}
	args[offsetIdx], args[offsetIdx+1] = args[offsetIdx+1], args[offsetIdx]
	return mysqlLimit.ReplaceAllString(query, "LIMIT ? OFFSET ?")
}
