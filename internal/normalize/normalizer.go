package normalize

import (
	"fmt"
	"sort"

	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/record"
)

// Error describes a record that could not be normalized. It aborts the run:
// a malformed record is a contract violation, not data to skip silently.
type Error struct {
	Resource string
	Field    string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s: field %s: %s", e.Resource, e.Field, e.Reason)
}

// Normalizer converts raw records of one resource into canonical rows.
type Normalizer struct {
	resource *config.ResourceConfig
}

func New(res *config.ResourceConfig) *Normalizer {
	return &Normalizer{resource: res}
}

// Normalize produces the canonical row for a raw record. The primary key
// and the incremental key must both be present and coercible; every other
// field is flattened to a SQL-bindable scalar.
func (n *Normalizer) Normalize(raw record.Raw) (record.Row, error) {
	res := n.resource

	keyParts := make([]string, 0, len(res.PrimaryKey))
	for _, col := range res.PrimaryKey {
		part, err := record.CoerceKey(raw[col])
		if err != nil {
			return record.Row{}, &Error{Resource: res.Name, Field: col, Reason: fmt.Sprintf("primary key: %v", err)}
		}
		keyParts = append(keyParts, part)
	}

	cursor, err := record.ParseValue(raw[res.IncrementalKey])
	if err != nil {
		return record.Row{}, &Error{Resource: res.Name, Field: res.IncrementalKey, Reason: fmt.Sprintf("incremental key: %v", err)}
	}

	cols := make(map[string]any, len(raw))
	for k, v := range raw {
		cols[k] = record.FlattenColumn(v)
	}

	return record.Row{
		Key:     record.CompositeKey(keyParts),
		Cursor:  cursor,
		Columns: cols,
	}, nil
}

// Columns returns the union of column names across rows, sorted, with the
// primary key columns first. The merge loader uses this to build the target
// table statement for a batch.
func Columns(rows []record.Row, primaryKey []string) []string {
	seen := make(map[string]bool, 16)
	for _, pk := range primaryKey {
		seen[pk] = true
	}
	var rest []string
	for _, row := range rows {
		for col := range row.Columns {
			if !seen[col] {
				seen[col] = true
				rest = append(rest, col)
			}
		}
	}
	sort.Strings(rest)
	return append(append([]string{}, primaryKey...), rest...)
}
