package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// limitDialect implements Dialect for engines whose limiting idiom is a
// trailing LIMIT clause. The wrapped subquery is aliased because MySQL
// requires derived tables to be named; PostgreSQL and SQLite tolerate it.
type limitDialect struct {
	native *regexp.Regexp
}

func (d limitDialect) HasLimit(sql string) bool {
	return d.native.MatchString(sql)
}

func (d limitDialect) LimitWrap(sql string, maxRows int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS limited_query LIMIT %d", strings.TrimSpace(sql), maxRows)
}

var (
	limitClause = regexp.MustCompile(`(?is)\bLIMIT\s+\d+`)
	// PostgreSQL additionally supports the standard FETCH FIRST idiom.
	fetchFirstClause = regexp.MustCompile(`(?is)\bFETCH\s+(?:FIRST|NEXT)\s+\d*\s*ROWS?\s+ONLY\b`)
	pgLimitClause    = regexp.MustCompile(limitClause.String() + `|` + fetchFirstClause.String())
)
