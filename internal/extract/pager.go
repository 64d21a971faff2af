package extract

import (
	"context"

	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/logging"
	"github.com/johndauphine/restsync/internal/record"
)

// Pager walks a resource page by page, starting from a committed cursor.
// When the endpoint cannot filter server-side (no cursor_param), records at
// or below the cursor are dropped client-side before they reach the caller.
type Pager struct {
	fetcher  Fetcher
	resource *config.ResourceConfig
	cursor   string
	cursorV  record.Value

	token string
	pages int
	done  bool
}

// NewPager creates a pager positioned after cursor. An empty cursor requests
// a full backfill from the resource's initial position.
func NewPager(f Fetcher, res *config.ResourceConfig, cursor string) *Pager {
	if cursor == "" {
		cursor = res.InitialCursor
	}
	return &Pager{
		fetcher:  f,
		resource: res,
		cursor:   cursor,
		cursorV:  record.ParseStoredValue(cursor),
	}
}

// Pages returns the number of pages fetched so far.
func (p *Pager) Pages() int {
	return p.pages
}

// Next fetches the next page of records. It returns (nil, nil) when the
// resource is exhausted. Pages emptied entirely by the cursor skip are
// consumed transparently; Next keeps fetching until it has records or
// reaches the end.
func (p *Pager) Next(ctx context.Context) ([]record.Raw, error) {
	for !p.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := p.fetcher.FetchPage(ctx, PageRequest{
			Resource:  p.resource,
			Cursor:    p.cursor,
			PageToken: p.token,
		})
		if err != nil {
			return nil, err
		}
		p.pages++
		p.token = page.NextToken
		if page.NextToken == "" {
			p.done = true
		}

		records := p.skipSeen(page.Records)
		if len(records) > 0 {
			return records, nil
		}
	}
	return nil, nil
}

// skipSeen drops records already covered by the committed cursor. Only
// applied when the upstream cannot filter by cursor itself. Records whose
// incremental key fails to parse are passed through so the normalizer can
// reject them with a proper error.
func (p *Pager) skipSeen(records []record.Raw) []record.Raw {
	if p.resource.CursorParam != "" || p.cursorV.IsZero() {
		return records
	}

	kept := records[:0]
	skipped := 0
	for _, raw := range records {
		v, err := record.ParseValue(raw[p.resource.IncrementalKey])
		if err == nil && v.Less(p.cursorV) {
			skipped++
			continue
		}
		kept = append(kept, raw)
	}
	if skipped > 0 {
		logging.Debug("Skipped %d already-synced records for %s", skipped, p.resource.Name)
	}
	return kept
}
