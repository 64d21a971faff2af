package exitcodes

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"explicit exit error", NewExitError(errors.New("boom"), StateError), StateError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(errors.New("boom"), ConfigError)), ConfigError},
		{"config parse", errors.New("parsing config: yaml: line 3"), ConfigError},
		{"missing field", errors.New("invalid config: api.base_url is required"), ConfigError},
		{"fetch 5xx", errors.New("fetch failed after 5 attempts: HTTP 503 from /orders"), FetchError},
		{"connection refused", errors.New("dial tcp: connection refused"), FetchError},
		{"missing selector", errors.New(`data selector "data" not found in response from /orders`), FetchError},
		{"merge failure", errors.New("merging batch for orders: database is locked"), MergeError},
		{"normalize missing pk", errors.New("normalize orders: field id: primary key: missing value"), NormalizeError},
		{"cancelled", context.Canceled, Cancelled},
		{"backward cursor", errors.New("cursor for orders would move backward: b -> a"), StateError},
		{"unknown", errors.New("something odd"), MergeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err); got != tt.want {
				t.Errorf("FromError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{FetchError, Cancelled, IOError}
	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("code %d should be recoverable", code)
		}
	}
	for _, code := range []int{Success, ConfigError, MergeError, NormalizeError, StateError} {
		if IsRecoverable(code) {
			t.Errorf("code %d should not be recoverable", code)
		}
	}
}

func TestDescription(t *testing.T) {
	for code := Success; code <= IOError; code++ {
		if Description(code) == "unknown error" {
			t.Errorf("code %d has no description", code)
		}
	}
	if Description(99) != "unknown error" {
		t.Error("unknown code should say so")
	}
}
