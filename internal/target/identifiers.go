package target

import (
	"strings"
	"unicode"
)

// quoteIdent safely quotes a SQL identifier, escaping embedded quotes.
// Both PostgreSQL and SQLite use double quotes.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// SanitizeIdentifier converts an upstream field name to a safe SQL
// identifier: lowercase, non-alphanumerics to underscores, "col_" prefix
// when it would start with a digit.
func SanitizeIdentifier(ident string) string {
	if ident == "" {
		return "col_"
	}

	s := strings.ToLower(ident)

	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	s = sb.String()

	if len(s) > 0 && unicode.IsDigit(rune(s[0])) {
		s = "col_" + s
	}
	if s == "" {
		return "col_"
	}
	return s
}

func qualifyTable(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}
