package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/logging"
	"github.com/johndauphine/restsync/internal/record"
)

// HTTPFetcher fetches pages from a JSON-over-HTTP API. Transient failures
// (network errors, 5xx, 429) are retried with exponential backoff up to the
// configured attempt budget; all other HTTP errors fail the page immediately.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	headers map[string]string
	token   string
	limit   int
	retry   config.RetryConfig
}

// NewHTTPFetcher builds a fetcher for the configured API. token may be empty
// when the endpoint is unauthenticated.
func NewHTTPFetcher(api *config.APIConfig, sync *config.SyncConfig, token string) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: api.Timeout()},
		baseURL: strings.TrimRight(api.BaseURL, "/"),
		headers: api.Headers,
		token:   token,
		limit:   sync.PageLimit,
		retry:   sync.Retry,
	}
}

// FetchPage fetches one page, retrying transient failures. The returned
// page's NextToken is empty when the resource is exhausted.
func (f *HTTPFetcher) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	u, err := f.buildURL(req)
	if err != nil {
		return nil, &FatalError{Err: err, Attempts: 1}
	}

	backoff := f.retry.InitialBackoff()
	var lastErr error

	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			logging.Debug("Retrying %s (attempt %d/%d) after %v: %v",
				req.Resource.Name, attempt, f.retry.MaxAttempts, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter(backoff)):
			}
			backoff *= 2
			if backoff > f.retry.MaxBackoff() {
				backoff = f.retry.MaxBackoff()
			}
		}

		page, err := f.fetchOnce(ctx, u, req)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			return nil, &FatalError{Err: err, Attempts: attempt}
		}
		lastErr = err
	}

	return nil, &FatalError{Err: lastErr, Attempts: f.retry.MaxAttempts}
}

// effectiveLimit is the page size actually requested: a per-resource
// "limit" param overrides the global page limit, and the exhaustion check
// in parsePage must compare against the same number.
func (f *HTTPFetcher) effectiveLimit(res *config.ResourceConfig) int {
	if s, ok := res.Params["limit"]; ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return f.limit
}

func (f *HTTPFetcher) buildURL(req PageRequest) (string, error) {
	u, err := url.Parse(f.baseURL + "/" + strings.TrimLeft(req.Resource.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid resource URL: %w", err)
	}

	q := u.Query()
	for k, v := range req.Resource.Params {
		q.Set(k, v)
	}
	if _, ok := req.Resource.Params["limit"]; !ok && f.limit > 0 {
		q.Set("limit", strconv.Itoa(f.limit))
	}
	if req.Resource.CursorParam != "" && req.Cursor != "" {
		q.Set(req.Resource.CursorParam, req.Cursor)
	}

	switch req.Resource.Pagination.Mode {
	case "token":
		if req.PageToken != "" {
			q.Set(req.Resource.Pagination.Param, req.PageToken)
		}
	default: // page numbers, 1-based
		page := req.PageToken
		if page == "" {
			page = "1"
		}
		q.Set(req.Resource.Pagination.Param, page)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string, req PageRequest) (*Page, error) {
	res := req.Resource
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range f.headers {
		httpReq.Header.Set(k, v)
	}
	if f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Err: fmt.Errorf("HTTP %d from %s", resp.StatusCode, res.Path)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, res.Path)
	}

	return f.parsePage(body, req)
}

func (f *HTTPFetcher) parsePage(body []byte, req PageRequest) (*Page, error) {
	res := req.Resource
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing response from %s: %w", res.Path, err)
	}

	payload := doc
	if res.DataSelector != "" {
		v, ok := navigate(doc, res.DataSelector)
		if !ok {
			return nil, fmt.Errorf("data selector %q not found in response from %s", res.DataSelector, res.Path)
		}
		payload = v
	}

	items, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array at %q in response from %s, got %T", res.DataSelector, res.Path, payload)
	}

	page := &Page{Records: make([]record.Raw, 0, len(items))}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d from %s is not an object (%T)", i, res.Path, item)
		}
		page.Records = append(page.Records, record.Raw(obj))
	}

	switch res.Pagination.Mode {
	case "token":
		if v, ok := navigate(doc, res.Pagination.TokenField); ok {
			if s, ok := v.(string); ok {
				page.NextToken = s
			}
		}
	default:
		// A short page means the resource is exhausted.
		if limit := f.effectiveLimit(res); limit > 0 && len(items) >= limit {
			cur := 1
			if req.PageToken != "" {
				n, err := strconv.Atoi(req.PageToken)
				if err != nil {
					return nil, fmt.Errorf("invalid page token %q for %s", req.PageToken, res.Name)
				}
				cur = n
			}
			page.NextToken = strconv.Itoa(cur + 1)
		}
	}

	return page, nil
}

// navigate walks a dot-separated path through nested JSON objects.
func navigate(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// Up to 25% random spread so concurrent resources don't retry in lockstep.
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
