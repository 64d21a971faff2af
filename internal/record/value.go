package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// valueKind discriminates how a cursor value compares.
type valueKind int

const (
	kindString valueKind = iota
	kindTime
	kindNumber
)

// Timestamp layouts accepted for incremental keys, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Value is a single cursor scalar: the incremental-key value of a record,
// coerced to a comparable form. The zero Value means "no cursor".
type Value struct {
	raw  string
	kind valueKind
	t    time.Time
	f    float64
}

// ParseValue coerces a raw field value into a comparable cursor Value.
// Timestamps and numbers compare on their parsed form; anything else
// falls back to lexical comparison of its string form.
func ParseValue(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, fmt.Errorf("nil value")
	case string:
		return parseString(x)
	case float64:
		return Value{raw: formatFloat(x), kind: kindNumber, f: x}, nil
	case float32:
		return Value{raw: formatFloat(float64(x)), kind: kindNumber, f: float64(x)}, nil
	case int:
		return Value{raw: strconv.Itoa(x), kind: kindNumber, f: float64(x)}, nil
	case int64:
		return Value{raw: strconv.FormatInt(x, 10), kind: kindNumber, f: float64(x)}, nil
	case time.Time:
		return Value{raw: x.UTC().Format(time.RFC3339Nano), kind: kindTime, t: x.UTC()}, nil
	default:
		return Value{}, fmt.Errorf("unsupported cursor type %T", v)
	}
}

// ParseStoredValue rebuilds a Value from its canonical string form, as
// persisted by the cursor store. The empty string is the "no cursor" zero.
func ParseStoredValue(s string) Value {
	if s == "" {
		return Value{}
	}
	v, err := parseString(s)
	if err != nil {
		return Value{raw: s, kind: kindString}
	}
	return v
}

func parseString(s string) (Value, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Value{}, fmt.Errorf("empty value")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return Value{raw: trimmed, kind: kindTime, t: t.UTC()}, nil
		}
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Value{raw: trimmed, kind: kindNumber, f: f}, nil
	}
	return Value{raw: trimmed, kind: kindString}, nil
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// IsZero reports whether v is the "no cursor" sentinel.
func (v Value) IsZero() bool {
	return v.raw == ""
}

// String returns the canonical persisted form.
func (v Value) String() string {
	return v.raw
}

// Compare returns -1, 0, or 1. A zero Value sorts before everything.
// Mixed-kind comparisons fall back to the canonical string form.
func (v Value) Compare(other Value) int {
	if v.IsZero() || other.IsZero() {
		switch {
		case v.IsZero() && other.IsZero():
			return 0
		case v.IsZero():
			return -1
		default:
			return 1
		}
	}
	if v.kind == other.kind {
		switch v.kind {
		case kindTime:
			return v.t.Compare(other.t)
		case kindNumber:
			switch {
			case v.f < other.f:
				return -1
			case v.f > other.f:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(v.raw, other.raw)
}

// Less reports whether v sorts before other.
func (v Value) Less(other Value) bool {
	return v.Compare(other) < 0
}

// Max returns the larger of v and other.
func (v Value) Max(other Value) Value {
	if v.Compare(other) >= 0 {
		return v
	}
	return other
}
