// Package record defines the data shapes flowing through a sync run: the
// untyped Raw record as decoded from the upstream API, the canonical Row
// consumed by the merge loader, and the comparable cursor Value.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Raw is an untyped record as received from the upstream resource.
// It exists only within a run.
type Raw map[string]any

// Row is a canonical record: a stable primary key, the incremental-key
// value coerced to a comparable scalar, and flattened scalar columns.
type Row struct {
	Key     string
	Cursor  Value
	Columns map[string]any
}

// CoerceKey turns a raw primary-key field into its canonical string form.
// Floats that carry integral values lose the trailing ".0" so that JSON
// number decoding does not split one logical key into two.
func CoerceKey(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("missing value")
	case string:
		if x == "" {
			return "", fmt.Errorf("empty value")
		}
		return x, nil
	case float64:
		return formatFloat(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported key type %T", v)
	}
}

// FlattenColumn reduces a raw field value to something a SQL driver can
// bind: scalars pass through, nested objects and arrays become JSON text.
func FlattenColumn(v any) any {
	switch v.(type) {
	case nil, string, float64, float32, int, int64, bool:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// CompositeKey joins multi-column primary keys into one stable string.
func CompositeKey(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	b, _ := json.Marshal(parts)
	return string(b)
}
