// Package sqlguard classifies and validates AI-generated SQL before it is
// allowed anywhere near a live connection. Classification is keyword
// matching, not parsing: good enough for policy routing, and every ambiguity
// falls through to UNKNOWN, which is always denied.
package sqlguard

import (
	"regexp"
	"strings"

	"github.com/org/querygate/pkg/models"
)

// Classification is the result of classifying one SQL string: the primary
// statement kind plus modifier flags detected independently of it.
type Classification struct {
	Operation models.Operation
	UsesJoin  bool
	UsesCTE   bool
}

var (
	selectRe = regexp.MustCompile(`(?is)^\s*(?:SELECT|WITH)\b`)
	insertRe = regexp.MustCompile(`(?is)^\s*(?:INSERT|INTO)\b`)
	updateRe = regexp.MustCompile(`(?is)^\s*UPDATE\b`)
	deleteRe = regexp.MustCompile(`(?is)^\s*DELETE\b`)
	ddlRe    = regexp.MustCompile(`(?is)^\s*(?:CREATE|DROP|ALTER|TRUNCATE|GRANT|REVOKE|RENAME)\b`)

	joinRe = regexp.MustCompile(`(?is)\bJOIN\b`)
	// Best-effort CTE heuristic: a WITH followed somewhere later by AS.
	// Not a parser; over- and under-matches on exotic formatting.
	cteRe = regexp.MustCompile(`(?is)\bWITH\b.*\bAS\b`)
)

// Classify maps raw SQL text to one primary operation and its modifier
// flags. Pure and deterministic; word-boundary matching throughout, so
// keywords embedded in identifiers (created_date, delete_flag) never match.
func Classify(sql string) Classification {
	c := Classification{Operation: models.OpUnknown}
	switch {
	case selectRe.MatchString(sql):
		c.Operation = models.OpSelect
	case insertRe.MatchString(sql):
		c.Operation = models.OpInsert
	case updateRe.MatchString(sql):
		c.Operation = models.OpUpdate
	case deleteRe.MatchString(sql):
		c.Operation = models.OpDelete
	case ddlRe.MatchString(sql):
		c.Operation = models.OpDDL
	}
	c.UsesJoin = joinRe.MatchString(sql)
	c.UsesCTE = cteRe.MatchString(sql)
	return c
}

// splitStatements splits SQL on ';' and returns the non-empty segments.
func splitStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
