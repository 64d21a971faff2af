package checkpoint

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/johndauphine/restsync/internal/record"
)

// State manages cursors and run history in SQLite.
type State struct {
	db *sql.DB
}

// New creates a new state manager backed by <dataDir>/restsync.db.
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "restsync.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cursors (
		resource TEXT PRIMARY KEY,
		position TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		resource TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		outcome TEXT NOT NULL DEFAULT 'running',
		start_cursor TEXT,
		end_cursor TEXT,
		rows_seen INTEGER DEFAULT 0,
		rows_filtered INTEGER DEFAULT 0,
		rows_written INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS secrets (
		profile TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_resource ON runs(resource, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// Cursor returns the committed high-water mark for a resource.
// ok=false means no cursor has ever been committed (full backfill).
func (s *State) Cursor(resource string) (string, bool, error) {
	var position string
	err := s.db.QueryRow(`SELECT position FROM cursors WHERE resource = ?`, resource).Scan(&position)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return position, true, nil
}

// CommitCursor durably advances the cursor for a resource. The write is a
// single upsert, so a crash leaves either the old or the new value.
// Backward movement is rejected to protect the monotonicity invariant.
func (s *State) CommitCursor(resource, position string) error {
	current, ok, err := s.Cursor(resource)
	if err != nil {
		return err
	}
	if ok && record.ParseStoredValue(position).Less(record.ParseStoredValue(current)) {
		return fmt.Errorf("cursor for %s would move backward: %s -> %s", resource, current, position)
	}

	_, err = s.db.Exec(`
		INSERT INTO cursors (resource, position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at
	`, resource, position, now())
	return err
}

// ResetCursor removes the cursor for a resource, forcing a full backfill
// on the next run.
func (s *State) ResetCursor(resource string) error {
	_, err := s.db.Exec(`DELETE FROM cursors WHERE resource = ?`, resource)
	return err
}

// Cursors lists all committed cursors.
func (s *State) Cursors() ([]CursorEntry, error) {
	rows, err := s.db.Query(`SELECT resource, position, updated_at FROM cursors ORDER BY resource`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CursorEntry
	for rows.Next() {
		var e CursorEntry
		var updatedAt string
		if err := rows.Scan(&e.Resource, &e.Position, &updatedAt); err != nil {
			return nil, err
		}
		e.UpdatedAt = parseTime(updatedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateRun records the start of a sync run.
func (s *State) CreateRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, resource, started_at, outcome, start_cursor)
		VALUES (?, ?, ?, 'running', ?)
	`, run.ID, run.Resource, run.StartedAt.Format(time.RFC3339), run.StartCursor)
	return err
}

// CompleteRun records the terminal state of a run.
func (s *State) CompleteRun(id string, upd RunUpdate) error {
	_, err := s.db.Exec(`
		UPDATE runs SET
			outcome = ?,
			completed_at = ?,
			end_cursor = ?,
			rows_seen = ?,
			rows_filtered = ?,
			rows_written = ?,
			error = ?
		WHERE id = ?
	`, upd.Outcome, now(), upd.EndCursor, upd.RowsSeen, upd.RowsFiltered, upd.RowsWritten, upd.Error, id)
	return err
}

// LastRun returns the most recent run for a resource, or nil.
func (s *State) LastRun(resource string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, resource, started_at, completed_at, outcome, start_cursor, end_cursor,
		       rows_seen, rows_filtered, rows_written, error
		FROM runs WHERE resource = ?
		ORDER BY started_at DESC LIMIT 1
	`, resource)
	return scanRun(row)
}

// RunByID returns a specific run, or nil if not found.
func (s *State) RunByID(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, resource, started_at, completed_at, outcome, start_cursor, end_cursor,
		       rows_seen, rows_filtered, rows_written, error
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// Runs returns the most recent runs across all resources.
func (s *State) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, resource, started_at, completed_at, outcome, start_cursor, end_cursor,
		       rows_seen, rows_filtered, rows_written, error
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// SaveToken stores an API bearer token under a profile name.
func (s *State) SaveToken(profile, token string) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (profile, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at
	`, profile, token, now())
	return err
}

// Token retrieves a stored API token.
func (s *State) Token(profile string) (string, error) {
	var token string
	err := s.db.QueryRow(`SELECT token FROM secrets WHERE profile = ?`, profile).Scan(&token)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no token stored for profile %q (run 'restsync auth %s')", profile, profile)
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// DeleteToken removes a stored API token.
func (s *State) DeleteToken(profile string) error {
	_, err := s.db.Exec(`DELETE FROM secrets WHERE profile = ?`, profile)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (*Run, error) {
	r, err := scanRunFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func scanRunRows(rows *sql.Rows) (*Run, error) {
	return scanRunFrom(rows)
}

func scanRunFrom(sc rowScanner) (*Run, error) {
	var r Run
	var startedAt string
	var completedAt, startCursor, endCursor, errMsg sql.NullString
	if err := sc.Scan(&r.ID, &r.Resource, &startedAt, &completedAt, &r.Outcome,
		&startCursor, &endCursor, &r.RowsSeen, &r.RowsFiltered, &r.RowsWritten, &errMsg); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		r.CompletedAt = &t
	}
	r.StartCursor = startCursor.String
	r.EndCursor = endCursor.String
	r.Error = errMsg.String
	return &r, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
