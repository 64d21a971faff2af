// Package normalize turns raw upstream records into canonical rows and
// applies the per-resource record predicate.
package normalize

import (
	"fmt"

	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/record"
)

// Predicate is a declarative per-record filter compiled from config.
// A nil *Predicate keeps everything.
type Predicate struct {
	field string
	op    string
	value record.Value
}

// NewPredicate compiles a filter config. Returns nil when cfg is nil.
func NewPredicate(cfg *config.FilterConfig) (*Predicate, error) {
	if cfg == nil {
		return nil, nil
	}
	v, err := record.ParseValue(cfg.Value)
	if err != nil {
		return nil, fmt.Errorf("filter value for field %s: %w", cfg.Field, err)
	}
	return &Predicate{field: cfg.Field, op: cfg.Op, value: v}, nil
}

// Keep reports whether a record passes the filter. A missing or null field
// compares as zero, so a "lte 500" filter keeps records without the field.
func (p *Predicate) Keep(raw record.Raw) bool {
	if p == nil {
		return true
	}

	fieldVal := raw[p.field]
	if fieldVal == nil {
		fieldVal = 0
	}
	v, err := record.ParseValue(fieldVal)
	if err != nil {
		// Uncomparable field values fail the predicate rather than
		// smuggling unknown data past it.
		return false
	}

	cmp := v.Compare(p.value)
	switch p.op {
	case "lt":
		return cmp < 0
	case "lte":
		return cmp <= 0
	case "gt":
		return cmp > 0
	case "gte":
		return cmp >= 0
	case "eq":
		return cmp == 0
	case "ne":
		return cmp != 0
	default:
		return true
	}
}
