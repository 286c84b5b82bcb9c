package sqlguard

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/org/querygate/pkg/models"
)

// PolicySource is the minimal interface the Gatekeeper needs from the
// policy store.
type PolicySource interface {
	IsAllowed(ctx context.Context, role models.Role, op models.Operation) (allowed bool, maxRows int, err error)
}

// Dialect is the engine-specific row-limiting surface needed for sanitized
// SQL rewriting. internal/engine's dialects satisfy it.
type Dialect interface {
	HasLimit(sql string) bool
	LimitWrap(sql string, maxRows int) string
}

// Gatekeeper validates AI-generated SQL against role policy before any
// execution. It performs no I/O beyond policy lookups through the injected
// store and holds no mutable state, so it is safe for concurrent use.
type Gatekeeper struct {
	policy PolicySource
}

// New creates a Gatekeeper backed by the given policy source.
func New(policy PolicySource) *Gatekeeper {
	return &Gatekeeper{policy: policy}
}

// forbiddenKeywords are rejected anywhere in the text for non-ADMIN roles,
// independent of the primary-statement classification. The list covers DDL
// keywords only: DML verbs are governed per role by the policy table and an
// unconditional reject here would contradict it.
var forbiddenKeywords = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)\bCREATE\b`), "CREATE"},
	{regexp.MustCompile(`(?i)\bDROP\b`), "DROP"},
	{regexp.MustCompile(`(?i)\bALTER\b`), "ALTER"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\b`), "TRUNCATE"},
	{regexp.MustCompile(`(?i)\bGRANT\b`), "GRANT"},
	{regexp.MustCompile(`(?i)\bREVOKE\b`), "REVOKE"},
	{regexp.MustCompile(`(?i)\bRENAME\b`), "RENAME"},
}

// sqlTokenRe tokenizes the parts of a statement that matter for table
// reference extraction: bare identifiers and the commas separating them.
var sqlTokenRe = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*|,`)

// tableClauseKeywords terminate a table reference list. Any other bare
// identifier following a table name is treated as its alias.
var tableClauseKeywords = map[string]bool{
	"SELECT": true, "WHERE": true, "ON": true, "GROUP": true, "ORDER": true,
	"HAVING": true, "LIMIT": true, "OFFSET": true, "FETCH": true, "SET": true,
	"VALUES": true, "UNION": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true, "NATURAL": true,
	"USING": true, "RETURNING": true,
}

// tableRefs extracts identifiers in table position: the comma-separated,
// optionally aliased name lists following FROM, JOIN, INTO and UPDATE. A
// heuristic, not a parser; it covers the statement shapes the classifier
// admits.
func tableRefs(sql string) []string {
	toks := sqlTokenRe.FindAllString(sql, -1)
	var refs []string
	for i := 0; i < len(toks); i++ {
		switch strings.ToUpper(toks[i]) {
		case "FROM", "JOIN", "INTO", "UPDATE":
		default:
			continue
		}
		j := i + 1
		for j < len(toks) && toks[j] != "," && !tableClauseKeywords[strings.ToUpper(toks[j])] {
			refs = append(refs, toks[j])
			j++
			if j < len(toks) && strings.ToUpper(toks[j]) == "AS" {
				j++
			}
			if j < len(toks) && toks[j] != "," && !tableClauseKeywords[strings.ToUpper(toks[j])] {
				j++ // alias
			}
			if j < len(toks) && toks[j] == "," {
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return refs
}

// Validate runs the full gate on one SQL string, short-circuiting on the
// first failure:
//
//  1. forbidden-keyword pass (non-ADMIN only)
//  2. statement-stacking check
//  3. table allow-list check (only when accessibleTables is non-nil)
//  4. operation and modifier permission check
//  5. defensive row-limit injection for SELECT, in the target dialect
//
// On success the result carries the sanitized SQL and the enforcement row
// cap; on failure it carries only the reason. Identical inputs always yield
// identical results.
func (g *Gatekeeper) Validate(ctx context.Context, sql string, role models.Role, accessibleTables []string, d Dialect) models.ValidationResult {
	if role != models.RoleAdmin {
		for _, kw := range forbiddenKeywords {
			if kw.re.MatchString(sql) {
				return invalid(fmt.Sprintf("forbidden keyword %s is not permitted for role %s", kw.name, role))
			}
		}
	}

	if len(splitStatements(sql)) > 1 {
		return invalid("multiple statements are not allowed")
	}

	if accessibleTables != nil {
		allowed := make(map[string]bool, len(accessibleTables))
		for _, t := range accessibleTables {
			allowed[strings.ToLower(t)] = true
		}
		for _, table := range tableRefs(sql) {
			if !allowed[strings.ToLower(table)] {
				return invalid(fmt.Sprintf("access denied to table %s", table))
			}
		}
	}

	c := Classify(sql)
	ok, maxRows, err := g.policy.IsAllowed(ctx, role, c.Operation)
	if err != nil {
		return invalid(fmt.Sprintf("permission lookup failed: %v", err))
	}
	if !ok {
		return invalid(fmt.Sprintf("operation %s is not permitted for role %s", c.Operation, role))
	}
	if c.UsesJoin {
		if ok, _, err := g.policy.IsAllowed(ctx, role, models.OpJoin); err != nil {
			return invalid(fmt.Sprintf("permission lookup failed: %v", err))
		} else if !ok {
			return invalid(fmt.Sprintf("operation JOIN is not permitted for role %s", role))
		}
	}
	if c.UsesCTE {
		if ok, _, err := g.policy.IsAllowed(ctx, role, models.OpCTE); err != nil {
			return invalid(fmt.Sprintf("permission lookup failed: %v", err))
		} else if !ok {
			return invalid(fmt.Sprintf("operation CTE is not permitted for role %s", role))
		}
	}

	sanitized := strings.TrimSpace(sql)
	sanitized = strings.TrimSuffix(sanitized, ";")
	if c.Operation == models.OpSelect && maxRows > 0 && !d.HasLimit(sanitized) {
		sanitized = d.LimitWrap(sanitized, maxRows)
	}

	return models.ValidationResult{Valid: true, SanitizedSQL: sanitized, MaxRows: maxRows}
}

func invalid(reason string) models.ValidationResult {
	return models.ValidationResult{Valid: false, Error: reason}
}
