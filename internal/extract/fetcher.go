// Package extract pulls paginated records from the upstream HTTP resource,
// in ascending incremental-key order, with bounded per-page retry.
package extract

import (
	"context"

	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/record"
)

// Page is one page of raw records plus the continuation token.
// An empty NextToken signals exhaustion.
type Page struct {
	Records   []record.Raw
	NextToken string
}

// PageRequest identifies one page fetch for a resource.
type PageRequest struct {
	Resource  *config.ResourceConfig
	Cursor    string // committed cursor position, "" for a full backfill
	PageToken string // "" requests the first page
}

// Fetcher fetches a single page from the upstream resource. Implementations
// absorb transient failures internally; an error from FetchPage aborts the
// run.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}
