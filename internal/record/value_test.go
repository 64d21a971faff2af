package record

import (
	"testing"
	"time"
)

func TestParseValueTimestamps(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"rfc3339", "2024-01-02T10:30:00Z", time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)},
		{"rfc3339 nano", "2024-01-02T10:30:00.123456789Z", time.Date(2024, 1, 2, 10, 30, 0, 123456789, time.UTC)},
		{"date only", "2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"space separated", "2024-01-02 10:30:00", time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)},
		{"time.Time", time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC), time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseValue(tt.in)
			if err != nil {
				t.Fatalf("ParseValue(%v): %v", tt.in, err)
			}
			if v.kind != kindTime {
				t.Fatalf("kind = %d, want time", v.kind)
			}
			if !v.t.Equal(tt.want) {
				t.Errorf("parsed time = %v, want %v", v.t, tt.want)
			}
		})
	}
}

func TestParseValueNumbers(t *testing.T) {
	v1, err := ParseValue(float64(42))
	if err != nil {
		t.Fatalf("ParseValue(42): %v", err)
	}
	if v1.String() != "42" {
		t.Errorf("String() = %q, want %q", v1.String(), "42")
	}

	v2, err := ParseValue("42.5")
	if err != nil {
		t.Fatalf("ParseValue(42.5): %v", err)
	}
	if v1.Compare(v2) >= 0 {
		t.Errorf("42 should sort before 42.5")
	}
}

func TestParseValueErrors(t *testing.T) {
	for _, in := range []any{nil, "", "   ", map[string]any{}} {
		if _, err := ParseValue(in); err == nil {
			t.Errorf("ParseValue(%#v): expected error", in)
		}
	}
}

func TestValueCompare(t *testing.T) {
	early, _ := ParseValue("2024-01-01T00:00:00Z")
	late, _ := ParseValue("2024-01-03T00:00:00Z")
	var zero Value

	if !early.Less(late) {
		t.Error("early should be less than late")
	}
	if !zero.Less(early) {
		t.Error("zero value should sort before any cursor")
	}
	if got := late.Max(early); got.Compare(late) != 0 {
		t.Errorf("Max = %v, want %v", got, late)
	}
	if early.Compare(early) != 0 {
		t.Error("value should equal itself")
	}
}

func TestParseStoredValueRoundTrip(t *testing.T) {
	orig, _ := ParseValue("2024-01-02T10:30:00Z")
	back := ParseStoredValue(orig.String())
	if back.Compare(orig) != 0 {
		t.Errorf("round trip changed value: %v != %v", back, orig)
	}

	if !ParseStoredValue("").IsZero() {
		t.Error("empty string should parse to zero value")
	}
}

func TestCoerceKey(t *testing.T) {
	tests := []struct {
		in      any
		want    string
		wantErr bool
	}{
		{"abc-123", "abc-123", false},
		{float64(1001), "1001", false},
		{float64(10.5), "10.5", false},
		{int64(7), "7", false},
		{true, "true", false},
		{nil, "", true},
		{"", "", true},
		{[]any{1}, "", true},
	}

	for _, tt := range tests {
		got, err := CoerceKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CoerceKey(%#v): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("CoerceKey(%#v): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CoerceKey(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFlattenColumn(t *testing.T) {
	if got := FlattenColumn("x"); got != "x" {
		t.Errorf("scalar should pass through, got %v", got)
	}
	if got := FlattenColumn(map[string]any{"a": float64(1)}); got != `{"a":1}` {
		t.Errorf("nested value = %v, want JSON text", got)
	}
}
