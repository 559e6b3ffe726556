package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// The writer prompt states scoping and read-only rules as policy, but the
// model is not trusted at the SQL layer. Every generated statement passes
// through ValidateStatement before it reaches the executor.

var (
	mutatingKeywords = regexp.MustCompile(`(?i)(^|[^a-z_])(insert|update|delete|drop|alter|create|truncate|grant|revoke|copy|merge)([^a-z_]|$)`)

	// Literal comparisons against the scope column. Column-to-column
	// comparisons (join conditions) carry no quoted literal and pass through.
	scopeComparisons = regexp.MustCompile(`user_id\s*(?:!?=|<>)\s*'([^']*)'`)
	scopeInLists     = regexp.MustCompile(`user_id\s+(?:not\s+)?in\s*\(([^)]*)\)`)
	quotedLiterals   = regexp.MustCompile(`'([^']*)'`)
)

// ValidateStatement rejects any statement that is not a single read-only
// SELECT scoped to the invoking user's identifier. Containing the invoking
// user's id is not enough: every literal compared against the scope column
// must be that id, so a statement scoped to the caller OR to somebody else is
// rejected before it can pull the other user's rows.
func ValidateStatement(stmt string, userID uuid.UUID) error {
	trimmed := strings.TrimSpace(stmt)
	trimmed = strings.TrimSuffix(trimmed, ";")
	if trimmed == "" {
		return fmt.Errorf("empty statement")
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}

	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return fmt.Errorf("statement must begin with SELECT or WITH")
	}
	if m := mutatingKeywords.FindStringSubmatch(trimmed); m != nil {
		return fmt.Errorf("statement contains mutating keyword %q", strings.ToUpper(m[2]))
	}
	id := strings.ToLower(userID.String())
	if !strings.Contains(lower, id) {
		return fmt.Errorf("statement is not scoped to the invoking user")
	}
	for _, m := range scopeComparisons.FindAllStringSubmatch(lower, -1) {
		if m[1] != id {
			return fmt.Errorf("statement references another user's scope")
		}
	}
	for _, m := range scopeInLists.FindAllStringSubmatch(lower, -1) {
		for _, lit := range quotedLiterals.FindAllStringSubmatch(m[1], -1) {
			if lit[1] != id {
				return fmt.Errorf("statement references another user's scope")
			}
		}
	}
	return nil
}

// SanitizeStatement normalizes writer output before validation: trims
// whitespace and strips a Markdown code fence if the model wrapped the
// statement in one.
func SanitizeStatement(stmt string) string {
	s := strings.TrimSpace(stmt)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return s
}
