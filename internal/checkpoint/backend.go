package checkpoint

import "time"

// Outcomes recorded for a sync run.
const (
	OutcomeRunning = "running"
	OutcomeSuccess = "success"
	OutcomePartial = "partial" // some batches committed, then the run failed
	OutcomeFailed  = "failed"
)

// Run is the persisted record of one sync run for one resource.
type Run struct {
	ID           string
	Resource     string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Outcome      string
	StartCursor  string
	EndCursor    string
	RowsSeen     int64
	RowsFiltered int64
	RowsWritten  int64
	Error        string
}

// CursorEntry is one committed high-water mark.
type CursorEntry struct {
	Resource  string
	Position  string
	UpdatedAt time.Time
}

// RunUpdate carries the terminal state of a run into CompleteRun.
type RunUpdate struct {
	Outcome      string
	EndCursor    string
	RowsSeen     int64
	RowsFiltered int64
	RowsWritten  int64
	Error        string
}

// Store defines the cursor-and-run persistence contract.
// Implementations: SQLite (full featured) and file-based (minimal, for
// headless/Airflow deployments).
type Store interface {
	// Cursor management. Cursor returns ok=false when no run has ever
	// committed for the resource, which signals a full backfill.
	Cursor(resource string) (position string, ok bool, err error)
	// CommitCursor durably advances the high-water mark. It rejects
	// backward movement; use ResetCursor for an explicit re-backfill.
	CommitCursor(resource, position string) error
	ResetCursor(resource string) error
	Cursors() ([]CursorEntry, error)

	// Run history.
	CreateRun(run *Run) error
	CompleteRun(id string, upd RunUpdate) error
	LastRun(resource string) (*Run, error)
	RunByID(id string) (*Run, error)
	Runs(limit int) ([]Run, error)

	Close() error
}

// SecretBackend extends Store with API token storage.
// Only the SQLite backend implements this; the file backend does not.
type SecretBackend interface {
	Store

	SaveToken(profile, token string) error
	Token(profile string) (string, error)
	DeleteToken(profile string) error
}

// Ensure the backends satisfy their contracts.
var (
	_ SecretBackend = (*State)(nil)
	_ Store         = (*FileState)(nil)
)
