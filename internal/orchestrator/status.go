package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/restsync/internal/checkpoint"
)

// ResourceStatus is the current sync position of one resource.
type ResourceStatus struct {
	Resource    string     `json:"resource"`
	Cursor      string     `json:"cursor,omitempty"`
	CursorSetAt *time.Time `json:"cursor_set_at,omitempty"`
	LastRunID   string     `json:"last_run_id,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	RowsWritten int64      `json:"rows_written,omitempty"`
}

// Status reports the cursor and last run for every configured resource.
func (o *Orchestrator) Status() ([]ResourceStatus, error) {
	cursors, err := o.store.Cursors()
	if err != nil {
		return nil, fmt.Errorf("listing cursors: %w", err)
	}
	byResource := make(map[string]checkpoint.CursorEntry, len(cursors))
	for _, c := range cursors {
		byResource[c.Resource] = c
	}

	statuses := make([]ResourceStatus, 0, len(o.config.Resources))
	for i := range o.config.Resources {
		res := &o.config.Resources[i]
		st := ResourceStatus{Resource: res.Name}

		if c, ok := byResource[res.Name]; ok {
			st.Cursor = c.Position
			t := c.UpdatedAt
			st.CursorSetAt = &t
		}

		run, err := o.store.LastRun(res.Name)
		if err != nil {
			return nil, fmt.Errorf("loading last run for %s: %w", res.Name, err)
		}
		if run != nil {
			st.LastRunID = run.ID
			st.LastOutcome = run.Outcome
			t := run.StartedAt
			st.LastRunAt = &t
			st.LastError = run.Error
			st.RowsWritten = run.RowsWritten
		}

		statuses = append(statuses, st)
	}
	return statuses, nil
}

// History returns the most recent runs, newest first.
func (o *Orchestrator) History(limit int) ([]checkpoint.Run, error) {
	return o.store.Runs(limit)
}

// RunDetails returns one run by ID.
func (o *Orchestrator) RunDetails(id string) (*checkpoint.Run, error) {
	run, err := o.store.RunByID(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, nil
}

// Cursors returns all committed cursors.
func (o *Orchestrator) Cursors() ([]checkpoint.CursorEntry, error) {
	return o.store.Cursors()
}

// ResetCursor clears the committed cursor for a resource. The next sync
// backfills from the resource's initial position.
func (o *Orchestrator) ResetCursor(resource string) error {
	if o.config.Resource(resource) == nil {
		return fmt.Errorf("unknown resource %q", resource)
	}
	return o.store.ResetCursor(resource)
}

// Sample returns up to limit rows from a resource's target table.
func (o *Orchestrator) Sample(ctx context.Context, resource string, limit int) ([]string, [][]any, error) {
	if o.config.Resource(resource) == nil {
		return nil, nil, fmt.Errorf("unknown resource %q", resource)
	}
	return o.writer.SampleRows(ctx, resource, limit)
}

// RowCounts returns the current target row count per configured resource.
func (o *Orchestrator) RowCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(o.config.Resources))
	for i := range o.config.Resources {
		res := &o.config.Resources[i]
		n, err := o.writer.RowCount(ctx, res.Name)
		if err != nil {
			// Table may not exist before the first sync
			counts[res.Name] = 0
			continue
		}
		counts[res.Name] = n
	}
	return counts, nil
}
