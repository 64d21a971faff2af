package notify

import "time"

// Provider defines the notification contract for sync events.
// This interface allows for different notification backends (Slack, email,
// etc.) and enables easier testing through mock implementations.
type Provider interface {
	// SyncStarted sends notification when a sync run starts.
	SyncStarted(runID, baseURL, targetDB string, resourceCount int) error

	// SyncCompleted sends notification when a sync run completes successfully.
	SyncCompleted(runID string, startTime time.Time, duration time.Duration, resourceCount int, rowsWritten int64) error

	// SyncFailed sends notification when a sync run fails.
	SyncFailed(runID string, err error, duration time.Duration) error

	// SyncCompletedWithErrors sends notification when some resources failed.
	SyncCompletedWithErrors(runID string, startTime time.Time, duration time.Duration, succeeded, failed int, rowsWritten int64, failures []string) error

	// ResourceFailed sends notification for an individual resource failure.
	ResourceFailed(runID, resource string, err error) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
