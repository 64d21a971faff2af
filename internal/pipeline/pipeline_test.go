package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/johndauphine/restsync/internal/checkpoint"
	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/extract"
	"github.com/johndauphine/restsync/internal/record"
)

// fakeWriter merges rows into an in-memory map keyed by primary key.
// failOnBatch makes the Nth UpsertBatch call fail (1-based).
type fakeWriter struct {
	rows        map[string][]any
	batches     int
	failOnBatch int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{rows: make(map[string][]any)}
}

func (w *fakeWriter) EnsureTable(context.Context, string, []string, []string, [][]any) error {
	return nil
}

func (w *fakeWriter) UpsertBatch(_ context.Context, _ string, cols []string, pk []string, rows [][]any) error {
	w.batches++
	if w.failOnBatch > 0 && w.batches == w.failOnBatch {
		return errors.New("merge failed")
	}
	pkIdx := -1
	for i, col := range cols {
		if col == pk[0] {
			pkIdx = i
			break
		}
	}
	for _, row := range rows {
		key, _ := record.CoerceKey(row[pkIdx])
		w.rows[key] = row
	}
	return nil
}

func (w *fakeWriter) RowCount(context.Context, string) (int64, error) {
	return int64(len(w.rows)), nil
}

func (w *fakeWriter) SampleRows(context.Context, string, int) ([]string, [][]any, error) {
	return nil, nil, nil
}

func (w *fakeWriter) Close() error { return nil }

// pageFetcher serves canned pages in order.
type pageFetcher struct {
	pages [][]record.Raw
	calls int
	err   error
	errOn int // fail the Nth fetch (1-based), 0 = never
}

func (f *pageFetcher) FetchPage(_ context.Context, _ extract.PageRequest) (*extract.Page, error) {
	f.calls++
	if f.errOn > 0 && f.calls == f.errOn {
		return nil, f.err
	}
	if f.calls > len(f.pages) {
		return &extract.Page{}, nil
	}
	p := &extract.Page{Records: f.pages[f.calls-1]}
	// Keep paginating while more pages exist or a queued error is still due.
	if f.calls < len(f.pages) || (f.errOn > 0 && f.errOn > f.calls) {
		p.NextToken = "more"
	}
	return p, nil
}

func ordersResource() *config.ResourceConfig {
	return &config.ResourceConfig{
		Name:           "orders",
		Path:           "/orders",
		IncrementalKey: "ordered_at",
		PrimaryKey:     []string{"id"},
	}
}

func order(id float64, at string, total float64) record.Raw {
	return record.Raw{"id": id, "ordered_at": at, "order_total": total}
}

func newTestPipeline(t *testing.T, res *config.ResourceConfig, f extract.Fetcher, w *fakeWriter, batchSize int) (*Pipeline, checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.New(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &Pipeline{
		Resource:  res,
		Fetcher:   f,
		Writer:    w,
		Store:     store,
		BatchSize: batchSize,
	}, store
}

func TestRun_SuccessCommitsMaxCursor(t *testing.T) {
	f := &pageFetcher{pages: [][]record.Raw{
		{order(1, "2024-01-01T00:00:00Z", 10), order(2, "2024-01-02T00:00:00Z", 20)},
		{order(3, "2024-01-03T00:00:00Z", 30)},
	}}
	w := newFakeWriter()
	p, store := newTestPipeline(t, ordersResource(), f, w, 2)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomeSuccess {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.RowsSeen != 3 || res.RowsWritten != 3 {
		t.Errorf("seen/written = %d/%d", res.RowsSeen, res.RowsWritten)
	}
	if res.EndCursor != "2024-01-03T00:00:00Z" {
		t.Errorf("EndCursor = %q", res.EndCursor)
	}

	pos, ok, _ := store.Cursor("orders")
	if !ok || pos != "2024-01-03T00:00:00Z" {
		t.Errorf("committed cursor = %q ok=%v", pos, ok)
	}
}

func TestRun_FilteredRecordsStillAdvanceCursor(t *testing.T) {
	f := &pageFetcher{pages: [][]record.Raw{
		{order(1, "2024-01-01T00:00:00Z", 100), order(2, "2024-01-05T00:00:00Z", 900)},
	}}
	w := newFakeWriter()
	resCfg := ordersResource()
	resCfg.Filter = &config.FilterConfig{Field: "order_total", Op: "lte", Value: 500}
	p, store := newTestPipeline(t, resCfg, f, w, 10)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomeSuccess {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.RowsFiltered != 1 || res.RowsWritten != 1 {
		t.Errorf("filtered/written = %d/%d", res.RowsFiltered, res.RowsWritten)
	}

	// The newest record was filtered out, but its key still moves the cursor
	pos, _, _ := store.Cursor("orders")
	if pos != "2024-01-05T00:00:00Z" {
		t.Errorf("cursor = %q, want the filtered record's key", pos)
	}
}

func TestRun_PartialFailureKeepsPrefixCursor(t *testing.T) {
	f := &pageFetcher{pages: [][]record.Raw{{
		order(1, "2024-01-01T00:00:00Z", 10),
		order(2, "2024-01-02T00:00:00Z", 20),
		order(3, "2024-01-03T00:00:00Z", 30),
		order(4, "2024-01-04T00:00:00Z", 40),
	}}}
	w := newFakeWriter()
	w.failOnBatch = 2
	p, store := newTestPipeline(t, ordersResource(), f, w, 2)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomePartial {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.Err == nil {
		t.Fatal("expected error on partial run")
	}
	if res.RowsWritten != 2 {
		t.Errorf("RowsWritten = %d, want 2 (first batch only)", res.RowsWritten)
	}

	// Cursor covers exactly the durable prefix
	pos, _, _ := store.Cursor("orders")
	if pos != "2024-01-02T00:00:00Z" {
		t.Errorf("cursor = %q, want last durable batch position", pos)
	}
}

func TestRun_FetchFailureAfterFirstBatchIsPartial(t *testing.T) {
	f := &pageFetcher{
		pages: [][]record.Raw{
			{order(1, "2024-01-01T00:00:00Z", 10), order(2, "2024-01-02T00:00:00Z", 20)},
		},
		errOn: 2,
		err:   &extract.FatalError{Err: errors.New("HTTP 500"), Attempts: 5},
	}
	w := newFakeWriter()
	p, store := newTestPipeline(t, ordersResource(), f, w, 2)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomePartial {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	pos, _, _ := store.Cursor("orders")
	if pos != "2024-01-02T00:00:00Z" {
		t.Errorf("cursor = %q", pos)
	}
}

func TestRun_TotalFailureCommitsNothing(t *testing.T) {
	f := &pageFetcher{
		errOn: 1,
		err:   &extract.FatalError{Err: errors.New("HTTP 401"), Attempts: 1},
	}
	w := newFakeWriter()
	p, store := newTestPipeline(t, ordersResource(), f, w, 2)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomeFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if _, ok, _ := store.Cursor("orders"); ok {
		t.Error("cursor must not move on total failure")
	}
}

func TestRun_EmptyResourceSucceedsWithoutCommit(t *testing.T) {
	f := &pageFetcher{}
	p, store := newTestPipeline(t, ordersResource(), f, newFakeWriter(), 2)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomeSuccess {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.RowsSeen != 0 {
		t.Errorf("RowsSeen = %d", res.RowsSeen)
	}
	if _, ok, _ := store.Cursor("orders"); ok {
		t.Error("no records, no cursor")
	}
}

func TestRun_MalformedRecordFailsRun(t *testing.T) {
	f := &pageFetcher{pages: [][]record.Raw{
		{record.Raw{"ordered_at": "2024-01-01T00:00:00Z"}}, // missing id
	}}
	p, _ := newTestPipeline(t, ordersResource(), f, newFakeWriter(), 2)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomeFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	pages := [][]record.Raw{
		{order(1, "2024-01-01T00:00:00Z", 10), order(2, "2024-01-02T00:00:00Z", 20)},
	}
	w := newFakeWriter()
	p, _ := newTestPipeline(t, ordersResource(), &pageFetcher{pages: pages}, w, 10)

	if res := p.Run(context.Background()); res.Outcome != checkpoint.OutcomeSuccess {
		t.Fatalf("first run: %s, %v", res.Outcome, res.Err)
	}

	// Upstream replays the same page; merge must not duplicate
	p.Fetcher = &pageFetcher{pages: pages}
	if res := p.Run(context.Background()); res.Outcome != checkpoint.OutcomeSuccess {
		t.Fatalf("second run: %s, %v", res.Outcome, res.Err)
	}

	if len(w.rows) != 2 {
		t.Errorf("target has %d rows, want 2", len(w.rows))
	}
}

func TestRun_DuplicateKeyWithinBatchMergesOnce(t *testing.T) {
	// The upstream re-delivers record 1 within one page; the batch handed to
	// the writer must carry each key once, with the later delivery winning.
	f := &pageFetcher{pages: [][]record.Raw{{
		order(1, "2024-01-01T00:00:00Z", 10),
		order(2, "2024-01-02T00:00:00Z", 20),
		order(1, "2024-01-03T00:00:00Z", 40),
	}}}
	w := newFakeWriter()
	p, store := newTestPipeline(t, ordersResource(), f, w, 10)

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomeSuccess {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.RowsSeen != 3 || res.RowsWritten != 2 {
		t.Errorf("seen/written = %d/%d, want 3/2", res.RowsSeen, res.RowsWritten)
	}
	if len(w.rows) != 2 {
		t.Fatalf("target has %d rows, want 2", len(w.rows))
	}
	// cols are primary key first, then the rest sorted: id, order_total, ordered_at
	if got := w.rows["1"][1]; got != 40.0 {
		t.Errorf("order_total for id 1 = %v, want the re-delivered value 40", got)
	}

	pos, _, _ := store.Cursor("orders")
	if pos != "2024-01-03T00:00:00Z" {
		t.Errorf("cursor = %q", pos)
	}
}

func TestRun_ResumeFromCommittedCursor(t *testing.T) {
	w := newFakeWriter()
	resCfg := ordersResource()
	p, store := newTestPipeline(t, resCfg, nil, w, 10)

	if err := store.CommitCursor("orders", "2024-01-02T00:00:00Z"); err != nil {
		t.Fatalf("CommitCursor: %v", err)
	}

	// Page replays old records plus one new; only the new one (and the
	// boundary record) should be merged.
	p.Fetcher = &pageFetcher{pages: [][]record.Raw{{
		order(1, "2024-01-01T00:00:00Z", 10),
		order(2, "2024-01-02T00:00:00Z", 20),
		order(3, "2024-01-03T00:00:00Z", 30),
	}}}

	res := p.Run(context.Background())
	if res.Outcome != checkpoint.OutcomeSuccess {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.RowsSeen != 2 {
		t.Errorf("RowsSeen = %d, want 2 (old record skipped)", res.RowsSeen)
	}
	pos, _, _ := store.Cursor("orders")
	if pos != "2024-01-03T00:00:00Z" {
		t.Errorf("cursor = %q", pos)
	}
}

func TestRun_CancellationAtBatchBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := &pageFetcher{pages: [][]record.Raw{{
		order(1, "2024-01-01T00:00:00Z", 10),
		order(2, "2024-01-02T00:00:00Z", 20),
		order(3, "2024-01-03T00:00:00Z", 30),
		order(4, "2024-01-04T00:00:00Z", 40),
	}}}
	w := newFakeWriter()
	p, store := newTestPipeline(t, ordersResource(), f, w, 2)
	p.OnBatch = func(string, int64) { cancel() }

	res := p.Run(ctx)
	if res.Outcome != checkpoint.OutcomePartial {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.Err)
	}
	// The flushed batch stays durable and its cursor is committed
	if res.RowsWritten != 2 {
		t.Errorf("RowsWritten = %d, want 2", res.RowsWritten)
	}
	pos, _, _ := store.Cursor("orders")
	if pos != "2024-01-02T00:00:00Z" {
		t.Errorf("cursor = %q", pos)
	}
}
