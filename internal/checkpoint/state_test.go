package checkpoint

import (
	"strings"
	"testing"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCursorLifecycle(t *testing.T) {
	s := newTestState(t)

	// No cursor yet → backfill sentinel
	_, ok, err := s.Cursor("orders")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if ok {
		t.Fatal("expected no cursor before first commit")
	}

	if err := s.CommitCursor("orders", "2024-01-02T00:00:00Z"); err != nil {
		t.Fatalf("CommitCursor: %v", err)
	}

	pos, ok, err := s.Cursor("orders")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if !ok || pos != "2024-01-02T00:00:00Z" {
		t.Errorf("cursor = %q ok=%v, want committed value", pos, ok)
	}

	// Forward movement allowed
	if err := s.CommitCursor("orders", "2024-01-03T00:00:00Z"); err != nil {
		t.Fatalf("forward commit: %v", err)
	}

	// Re-commit of the same value allowed (idempotent re-run)
	if err := s.CommitCursor("orders", "2024-01-03T00:00:00Z"); err != nil {
		t.Fatalf("same-value commit: %v", err)
	}

	// Backward movement rejected
	err = s.CommitCursor("orders", "2024-01-01T00:00:00Z")
	if err == nil {
		t.Fatal("expected backward commit to fail")
	}
	if !strings.Contains(err.Error(), "backward") {
		t.Errorf("error = %v, want backward-movement message", err)
	}

	pos, _, _ = s.Cursor("orders")
	if pos != "2024-01-03T00:00:00Z" {
		t.Errorf("cursor after rejected commit = %q", pos)
	}
}

func TestCursorIsolationAcrossResources(t *testing.T) {
	s := newTestState(t)

	if err := s.CommitCursor("orders", "2024-01-03T00:00:00Z"); err != nil {
		t.Fatalf("CommitCursor orders: %v", err)
	}
	if err := s.CommitCursor("customers", "2023-06-01T00:00:00Z"); err != nil {
		t.Fatalf("CommitCursor customers: %v", err)
	}

	entries, err := s.Cursors()
	if err != nil {
		t.Fatalf("Cursors: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d cursors, want 2", len(entries))
	}
	// Sorted by resource
	if entries[0].Resource != "customers" || entries[1].Resource != "orders" {
		t.Errorf("cursor order = %v", entries)
	}
}

func TestResetCursor(t *testing.T) {
	s := newTestState(t)

	if err := s.CommitCursor("orders", "2024-01-03T00:00:00Z"); err != nil {
		t.Fatalf("CommitCursor: %v", err)
	}
	if err := s.ResetCursor("orders"); err != nil {
		t.Fatalf("ResetCursor: %v", err)
	}

	_, ok, _ := s.Cursor("orders")
	if ok {
		t.Error("expected no cursor after reset")
	}

	// After reset, an "earlier" value may be committed again
	if err := s.CommitCursor("orders", "2023-01-01T00:00:00Z"); err != nil {
		t.Errorf("commit after reset: %v", err)
	}
}

func TestRunHistory(t *testing.T) {
	s := newTestState(t)

	run := &Run{ID: "run1", Resource: "orders", StartCursor: "2024-01-01T00:00:00Z"}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.LastRun("orders")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if got == nil || got.Outcome != OutcomeRunning {
		t.Fatalf("LastRun = %+v, want running run", got)
	}

	upd := RunUpdate{
		Outcome:      OutcomePartial,
		EndCursor:    "2024-01-02T00:00:00Z",
		RowsSeen:     100,
		RowsFiltered: 10,
		RowsWritten:  90,
		Error:        "merge failed on batch 2",
	}
	if err := s.CompleteRun("run1", upd); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err = s.RunByID("run1")
	if err != nil {
		t.Fatalf("RunByID: %v", err)
	}
	if got.Outcome != OutcomePartial || got.EndCursor != "2024-01-02T00:00:00Z" {
		t.Errorf("run = %+v", got)
	}
	if got.RowsSeen != 100 || got.RowsFiltered != 10 || got.RowsWritten != 90 {
		t.Errorf("counts = %d/%d/%d", got.RowsSeen, got.RowsFiltered, got.RowsWritten)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	if missing, _ := s.RunByID("nope"); missing != nil {
		t.Error("expected nil for unknown run ID")
	}

	runs, err := s.Runs(10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

func TestTokenStorage(t *testing.T) {
	s := newTestState(t)

	if _, err := s.Token("prod"); err == nil {
		t.Fatal("expected error for missing token")
	}

	if err := s.SaveToken("prod", "tok-1"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	tok, err := s.Token("prod")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q", tok)
	}

	// Overwrite
	if err := s.SaveToken("prod", "tok-2"); err != nil {
		t.Fatalf("SaveToken overwrite: %v", err)
	}
	tok, _ = s.Token("prod")
	if tok != "tok-2" {
		t.Errorf("token after overwrite = %q", tok)
	}

	if err := s.DeleteToken("prod"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := s.Token("prod"); err == nil {
		t.Error("expected error after delete")
	}
}
