// Package target writes canonical rows into the destination store. Both
// backends merge by primary key: re-delivering a batch is a no-op.
package target

import (
	"context"
)

// Writer is a merge-capable destination for one dataset. Table and column
// names are sanitized by the writer; callers pass logical names.
type Writer interface {
	// EnsureTable creates the table if missing and adds any columns that
	// appeared since it was created. Existing columns are never altered.
	// rows is a sample used only for column type inference.
	EnsureTable(ctx context.Context, table string, cols []string, pk []string, rows [][]any) error

	// UpsertBatch merges rows by primary key inside a single transaction.
	// Either the whole batch becomes visible or none of it does.
	UpsertBatch(ctx context.Context, table string, cols []string, pk []string, rows [][]any) error

	// RowCount returns the current number of rows in a table.
	RowCount(ctx context.Context, table string) (int64, error)

	// SampleRows returns up to limit rows for inspection, with the column
	// names in table order. Values come back as driver-native scalars.
	SampleRows(ctx context.Context, table string, limit int) (cols []string, rows [][]any, err error)

	Close() error
}
