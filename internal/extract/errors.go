package extract

import (
	"errors"
	"fmt"
)

// TransientError marks a page fetch failure that is safe to retry:
// network errors, HTTP 5xx, and 429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError aborts the run: either the retry budget was exhausted or the
// upstream returned an unrecoverable response.
type FatalError struct {
	Err      error
	Attempts int
}

func (e *FatalError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("fetch failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch failed: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err aborted extraction for the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
