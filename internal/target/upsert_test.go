package target

import (
	"strings"
	"testing"
)

func TestBuildUpsertSQL(t *testing.T) {
	sql := buildUpsertSQL(`"orders"`, "orders", []string{"id", "total"}, []string{"id"}, 2, questionMark, false)

	want := `INSERT INTO "orders" ("id", "total") VALUES (?, ?), (?, ?) ON CONFLICT ("id") DO UPDATE SET "total" = excluded."total"`
	if sql != want {
		t.Errorf("sql = %s\nwant  %s", sql, want)
	}
}

func TestBuildUpsertSQL_DollarParamsAndDistinctGuard(t *testing.T) {
	sql := buildUpsertSQL(`"public"."orders"`, "orders", []string{"id", "total"}, []string{"id"}, 1, dollarNumber, true)

	if !strings.Contains(sql, "VALUES ($1, $2)") {
		t.Errorf("missing dollar params: %s", sql)
	}
	if !strings.Contains(sql, `WHERE ("orders"."total") IS DISTINCT FROM (excluded."total")`) {
		t.Errorf("missing distinct guard: %s", sql)
	}
}

func TestBuildUpsertSQL_AllColumnsAreKey(t *testing.T) {
	sql := buildUpsertSQL(`"t"`, "t", []string{"a", "b"}, []string{"a", "b"}, 1, questionMark, false)
	if !strings.Contains(sql, "DO NOTHING") {
		t.Errorf("expected DO NOTHING when no non-key columns: %s", sql)
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ordered_at", "ordered_at"},
		{"OrderTotal", "ordertotal"},
		{"order-total", "order_total"},
		{"order total", "order_total"},
		{"123abc", "col_123abc"},
		{"", "col_"},
	}
	for _, tt := range tests {
		if got := SanitizeIdentifier(tt.in); got != tt.want {
			t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
