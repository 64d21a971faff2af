package target

import (
	"fmt"
	"strings"
)

// placeholder generates the parameter marker for position n (1-based).
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollarNumber(n int) string { return fmt.Sprintf("$%d", n) }

// buildUpsertSQL generates a multi-row merge statement:
//
//	INSERT INTO t (cols) VALUES (...), (...)
//	ON CONFLICT (pk) DO UPDATE SET col = excluded.col, ...
//
// Non-PK columns get a DO UPDATE SET; a table whose columns are all part of
// the key degrades to DO NOTHING. Column names must already be sanitized.
// With distinctGuard the update is skipped when nothing changed, which on
// PostgreSQL avoids dead row versions and WAL churn on idempotent re-runs.
func buildUpsertSQL(qualified, table string, cols, pkCols []string, rowCount int, ph placeholder, distinctGuard bool) string {
	quotedCols := make([]string, len(cols))
	for i, col := range cols {
		quotedCols[i] = quoteIdent(col)
	}
	quotedPKs := make([]string, len(pkCols))
	for i, pk := range pkCols {
		quotedPKs[i] = quoteIdent(pk)
	}

	pkSet := make(map[string]bool, len(pkCols))
	for _, pk := range pkCols {
		pkSet[pk] = true
	}
	var setClauses []string
	var targetCols []string
	var excludedCols []string
	for _, col := range cols {
		if !pkSet[col] {
			setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col)))
			targetCols = append(targetCols, quoteIdent(table)+"."+quoteIdent(col))
			excludedCols = append(excludedCols, "excluded."+quoteIdent(col))
		}
	}

	tuples := make([]string, rowCount)
	params := make([]string, len(cols))
	for row := 0; row < rowCount; row++ {
		for col := range cols {
			params[col] = ph(row*len(cols) + col + 1)
		}
		tuples[row] = "(" + strings.Join(params, ", ") + ")"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		qualified, strings.Join(quotedCols, ", "), strings.Join(tuples, ", ")))
	sb.WriteString(fmt.Sprintf(" ON CONFLICT (%s)", strings.Join(quotedPKs, ", ")))
	if len(setClauses) > 0 {
		sb.WriteString(" DO UPDATE SET " + strings.Join(setClauses, ", "))
		if distinctGuard {
			sb.WriteString(fmt.Sprintf(" WHERE (%s) IS DISTINCT FROM (%s)",
				strings.Join(targetCols, ", "), strings.Join(excludedCols, ", ")))
		}
	} else {
		sb.WriteString(" DO NOTHING")
	}
	return sb.String()
}

// sanitizeAll maps logical column names to safe SQL identifiers, preserving
// order.
func sanitizeAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = SanitizeIdentifier(c)
	}
	return out
}
