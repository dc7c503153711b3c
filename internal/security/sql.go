// Package security builds the user-influenced fragments of SQL queries:
// identifiers, LIKE patterns and ORDER BY clauses.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// validIdentifier matches lowercase column names
var validIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdentifier checks if a string is a valid SQL identifier
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier too long (max 63 characters)")
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// QuoteIdentifier quotes an identifier. Only use it after validation.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EscapeLikePattern escapes the LIKE wildcards %, _ and the escape
// character itself.
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	pattern = strings.ReplaceAll(pattern, `%`, `\%`)
	pattern = strings.ReplaceAll(pattern, `_`, `\_`)
	return pattern
}

// SearchCondition builds a case-insensitive "contains" condition over
// columns for use with gorm's Where. Invalid column names are skipped; an
// empty condition means nothing to search.
func SearchCondition(columns []string, term string) (string, []interface{}) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", nil
	}
	param := "%" + strings.ToLower(EscapeLikePattern(term)) + "%"

	conditions := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		if ValidateIdentifier(col) != nil {
			continue
		}
		conditions = append(conditions, fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, QuoteIdentifier(col)))
		args = append(args, param)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "(" + strings.Join(conditions, " OR ") + ")", args
}

// OrderClause returns "column DIR" when column is in allowed, or fallback
func OrderClause(allowed []string, column, dir, fallback string) string {
	for _, a := range allowed {
		if a == column {
			if strings.EqualFold(dir, "asc") {
				return QuoteIdentifier(column) + " ASC"
			}
			return QuoteIdentifier(column) + " DESC"
		}
	}
	return fallback
}
