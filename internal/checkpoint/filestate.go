package checkpoint

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/restsync/internal/record"
)

// maxFileRuns caps the run history kept in the YAML state file.
const maxFileRuns = 50

// FileState implements Store using a single YAML file.
// Designed for Airflow and headless environments where SQLite is impractical.
// Token storage is not supported; use the SQLite backend for that.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

// fileStateData is the YAML structure for the state file.
type fileStateData struct {
	Cursors map[string]fileCursor `yaml:"cursors"`
	Runs    []fileRun             `yaml:"runs,omitempty"`
}

type fileCursor struct {
	Position  string    `yaml:"position"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

type fileRun struct {
	ID           string     `yaml:"id"`
	Resource     string     `yaml:"resource"`
	StartedAt    time.Time  `yaml:"started_at"`
	CompletedAt  *time.Time `yaml:"completed_at,omitempty"`
	Outcome      string     `yaml:"outcome"`
	StartCursor  string     `yaml:"start_cursor,omitempty"`
	EndCursor    string     `yaml:"end_cursor,omitempty"`
	RowsSeen     int64      `yaml:"rows_seen,omitempty"`
	RowsFiltered int64      `yaml:"rows_filtered,omitempty"`
	RowsWritten  int64      `yaml:"rows_written,omitempty"`
	Error        string     `yaml:"error,omitempty"`
}

// NewFileState creates a file-based state manager.
// If the file exists, it loads the existing state.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path: path,
		state: &fileStateData{
			Cursors: make(map[string]fileCursor),
		},
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading state file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
		if fs.state.Cursors == nil {
			fs.state.Cursors = make(map[string]fileCursor)
		}
	}

	return fs, nil
}

// save writes the state file atomically: temp file then rename, so a crash
// leaves either the old or the new contents.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Cursor returns the committed high-water mark for a resource.
func (fs *FileState) Cursor(resource string) (string, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	c, ok := fs.state.Cursors[resource]
	if !ok {
		return "", false, nil
	}
	return c.Position, true, nil
}

// CommitCursor durably advances the cursor for a resource.
func (fs *FileState) CommitCursor(resource, position string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if current, ok := fs.state.Cursors[resource]; ok {
		if record.ParseStoredValue(position).Less(record.ParseStoredValue(current.Position)) {
			return fmt.Errorf("cursor for %s would move backward: %s -> %s", resource, current.Position, position)
		}
	}

	fs.state.Cursors[resource] = fileCursor{Position: position, UpdatedAt: time.Now().UTC()}
	return fs.save()
}

// ResetCursor removes the cursor for a resource.
func (fs *FileState) ResetCursor(resource string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.state.Cursors, resource)
	return fs.save()
}

// Cursors lists all committed cursors.
func (fs *FileState) Cursors() ([]CursorEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries := make([]CursorEntry, 0, len(fs.state.Cursors))
	for resource, c := range fs.state.Cursors {
		entries = append(entries, CursorEntry{Resource: resource, Position: c.Position, UpdatedAt: c.UpdatedAt})
	}
	return entries, nil
}

// CreateRun records the start of a sync run.
func (fs *FileState) CreateRun(run *Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	fs.state.Runs = append([]fileRun{{
		ID:          run.ID,
		Resource:    run.Resource,
		StartedAt:   run.StartedAt,
		Outcome:     OutcomeRunning,
		StartCursor: run.StartCursor,
	}}, fs.state.Runs...)
	if len(fs.state.Runs) > maxFileRuns {
		fs.state.Runs = fs.state.Runs[:maxFileRuns]
	}
	return fs.save()
}

// CompleteRun records the terminal state of a run.
func (fs *FileState) CompleteRun(id string, upd RunUpdate) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.state.Runs {
		if fs.state.Runs[i].ID != id {
			continue
		}
		now := time.Now().UTC()
		fs.state.Runs[i].CompletedAt = &now
		fs.state.Runs[i].Outcome = upd.Outcome
		fs.state.Runs[i].EndCursor = upd.EndCursor
		fs.state.Runs[i].RowsSeen = upd.RowsSeen
		fs.state.Runs[i].RowsFiltered = upd.RowsFiltered
		fs.state.Runs[i].RowsWritten = upd.RowsWritten
		fs.state.Runs[i].Error = upd.Error
		return fs.save()
	}
	return fmt.Errorf("run not found: %s", id)
}

// LastRun returns the most recent run for a resource, or nil.
func (fs *FileState) LastRun(resource string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for i := range fs.state.Runs {
		if fs.state.Runs[i].Resource == resource {
			r := fs.state.Runs[i].toRun()
			return &r, nil
		}
	}
	return nil, nil
}

// RunByID returns a specific run, or nil.
func (fs *FileState) RunByID(id string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for i := range fs.state.Runs {
		if fs.state.Runs[i].ID == id {
			r := fs.state.Runs[i].toRun()
			return &r, nil
		}
	}
	return nil, nil
}

// Runs returns the most recent runs, newest first.
func (fs *FileState) Runs(limit int) ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if limit <= 0 || limit > len(fs.state.Runs) {
		limit = len(fs.state.Runs)
	}
	runs := make([]Run, 0, limit)
	for i := 0; i < limit; i++ {
		runs = append(runs, fs.state.Runs[i].toRun())
	}
	return runs, nil
}

// Close is a no-op for the file backend.
func (fs *FileState) Close() error {
	return nil
}

func (fr *fileRun) toRun() Run {
	return Run{
		ID:           fr.ID,
		Resource:     fr.Resource,
		StartedAt:    fr.StartedAt,
		CompletedAt:  fr.CompletedAt,
		Outcome:      fr.Outcome,
		StartCursor:  fr.StartCursor,
		EndCursor:    fr.EndCursor,
		RowsSeen:     fr.RowsSeen,
		RowsFiltered: fr.RowsFiltered,
		RowsWritten:  fr.RowsWritten,
		Error:        fr.Error,
	}
}
