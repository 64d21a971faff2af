// Package exitcodes defines standard exit codes for CLI operations, stable
// across releases so Airflow, Kubernetes, and cron wrappers can branch on
// them.
package exitcodes

import (
	"errors"
	"os"
	"strings"
)

const (
	// Success - sync completed without errors
	Success = 0

	// ConfigError - configuration/YAML parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// FetchError - upstream API unreachable or returned errors (recoverable)
	FetchError = 2

	// MergeError - writing to the target store failed (non-recoverable)
	MergeError = 3

	// NormalizeError - malformed upstream record, missing key fields (non-recoverable)
	NormalizeError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - cursor store errors, backward cursor movement (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// It examines error messages and types to classify the error.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	// os.PathError first (file not found, permission denied, etc.)
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	// Normalize errors (exit code 4) - checked before ConfigError so that
	// "primary key" in a record error doesn't match config keywords
	if containsAny(errStr, []string{
		"normalize",
		"primary key",
		"incremental key",
		"upsert requires",
	}) {
		return NormalizeError
	}

	// Config errors (exit code 1)
	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid config",
		"is required",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	// Fetch errors (exit code 2)
	if containsAny(errStr, []string{
		"fetch",
		"http",
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"data selector",
	}) {
		return FetchError
	}

	// Merge errors (exit code 3)
	if containsAny(errStr, []string{
		"merging",
		"merge",
		"insert",
		"create table",
		"adding column",
		"target database",
	}) {
		return MergeError
	}

	// Cancelled (exit code 5)
	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
		"context deadline",
	}) {
		return Cancelled
	}

	// State errors (exit code 6)
	if containsAny(errStr, []string{
		"state",
		"cursor",
		"checkpoint",
		"run not found",
	}) {
		return StateError
	}

	// Default to merge error for unknown errors
	return MergeError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case FetchError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case FetchError:
		return "fetch error (recoverable)"
	case MergeError:
		return "merge error"
	case NormalizeError:
		return "normalize error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
