// Package progress renders sync progress for humans (a terminal progress
// bar) and machines (JSON updates on stderr).
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/restsync/internal/logging"
)

// Tracker tracks rows written across concurrently syncing resources.
// Without a known total it renders a spinner with a live row count.
type Tracker struct {
	bar       *progressbar.ProgressBar
	current   atomic.Int64
	startTime time.Time

	mu              sync.Mutex
	activeResources map[string]int
}

// New creates a new progress tracker.
func New() *Tracker {
	return &Tracker{
		startTime:       time.Now(),
		activeResources: make(map[string]int),
	}
}

// Start begins rendering. Incremental syncs rarely know the row count up
// front, so the bar runs in indeterminate mode (-1).
func (t *Tracker) Start() {
	t.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription("Syncing"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the written-row counter.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// StartResource marks a resource as actively syncing.
func (t *Tracker) StartResource(name string) {
	t.mu.Lock()
	t.activeResources[name]++
	count := len(t.activeResources)
	t.mu.Unlock()

	if t.bar != nil {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Syncing %s", name))
		} else {
			t.bar.Describe(fmt.Sprintf("Syncing (%d resources)", count))
		}
		t.bar.RenderBlank()
	}
}

// EndResource marks a resource as done.
func (t *Tracker) EndResource(name string) {
	t.mu.Lock()
	t.activeResources[name]--
	if t.activeResources[name] <= 0 {
		delete(t.activeResources, name)
	}
	count := len(t.activeResources)
	var remaining string
	for n := range t.activeResources {
		remaining = n
		break
	}
	t.mu.Unlock()

	if t.bar != nil && count > 0 {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Syncing %s", remaining))
		} else {
			t.bar.Describe(fmt.Sprintf("Syncing (%d resources)", count))
		}
	}
}

// Current returns the current count.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish marks the progress as complete.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	fmt.Println()
	logging.Info("Sync complete: %d rows in %s (%.0f rows/sec)",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}
