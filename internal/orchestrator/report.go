package orchestrator

import (
	"errors"
	"time"

	"github.com/johndauphine/restsync/internal/checkpoint"
)

// OutcomeSkipped marks a resource that was not synced because another sync
// of it was still in flight.
const OutcomeSkipped = "skipped"

// ResourceReport summarizes one resource within a sync.
type ResourceReport struct {
	Resource        string  `json:"resource"`
	RunID           string  `json:"run_id"`
	Outcome         string  `json:"outcome"`
	StartCursor     string  `json:"start_cursor,omitempty"`
	EndCursor       string  `json:"end_cursor,omitempty"`
	RowsSeen        int64   `json:"rows_seen"`
	RowsFiltered    int64   `json:"rows_filtered"`
	RowsWritten     int64   `json:"rows_written"`
	Pages           int     `json:"pages"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// RunReport is the machine-readable result of one sync invocation, emitted
// with --json for Airflow and other wrappers.
type RunReport struct {
	SyncID          string           `json:"sync_id"`
	StartedAt       time.Time        `json:"started_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	Outcome         string           `json:"outcome"`
	Succeeded       int              `json:"succeeded"`
	Partial         int              `json:"partial"`
	Failed          int              `json:"failed"`
	Skipped         int              `json:"skipped"`
	RowsSeen        int64            `json:"rows_seen"`
	RowsFiltered    int64            `json:"rows_filtered"`
	RowsWritten     int64            `json:"rows_written"`
	Resources       []ResourceReport `json:"resources"`
}

// finalize rolls the per-resource outcomes up into sync-level totals.
func (r *RunReport) finalize(duration time.Duration) {
	r.DurationSeconds = duration.Seconds()
	for _, res := range r.Resources {
		r.RowsSeen += res.RowsSeen
		r.RowsFiltered += res.RowsFiltered
		r.RowsWritten += res.RowsWritten
		switch res.Outcome {
		case checkpoint.OutcomeSuccess:
			r.Succeeded++
		case checkpoint.OutcomePartial:
			r.Partial++
			r.Failed++
		case OutcomeSkipped:
			r.Skipped++
		default:
			r.Failed++
		}
	}

	switch {
	case r.Failed == 0:
		r.Outcome = checkpoint.OutcomeSuccess
	case r.Succeeded > 0 || r.Partial > 0:
		r.Outcome = checkpoint.OutcomePartial
	default:
		r.Outcome = checkpoint.OutcomeFailed
	}
}

// firstError returns the first resource error, for exit-code classification.
func (r *RunReport) firstError() error {
	for _, res := range r.Resources {
		if res.Error != "" {
			return errors.New(res.Error)
		}
	}
	return nil
}

// failedResources lists the names of resources that did not fully succeed.
func (r *RunReport) failedResources() []string {
	var names []string
	for _, res := range r.Resources {
		if res.Outcome == checkpoint.OutcomeFailed || res.Outcome == checkpoint.OutcomePartial {
			names = append(names, res.Resource)
		}
	}
	return names
}
