// Package orchestrator coordinates a sync across all configured resources:
// it owns the shared fetcher, target writer, and cursor store, fans resources
// out to a bounded worker pool, and records run history.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/restsync/internal/checkpoint"
	"github.com/johndauphine/restsync/internal/config"
	"github.com/johndauphine/restsync/internal/extract"
	"github.com/johndauphine/restsync/internal/logging"
	"github.com/johndauphine/restsync/internal/notify"
	"github.com/johndauphine/restsync/internal/pipeline"
	"github.com/johndauphine/restsync/internal/progress"
	"github.com/johndauphine/restsync/internal/target"
)

// Options overrides the orchestrator's collaborators, mainly for tests and
// for the CLI's --state-file flag.
type Options struct {
	Store    checkpoint.Store
	Fetcher  extract.Fetcher
	Writer   target.Writer
	Notifier *notify.Notifier
	Tracker  *progress.Tracker
	Reporter progress.Reporter
}

// Orchestrator coordinates the sync process.
type Orchestrator struct {
	config   *config.Config
	store    checkpoint.Store
	fetcher  extract.Fetcher
	writer   target.Writer
	notifier *notify.Notifier
	tracker  *progress.Tracker
	reporter progress.Reporter

	// inFlight guards against overlapping syncs of the same resource, e.g.
	// a cron tick firing while the previous run is still draining.
	inFlight sync.Map // resource name -> *sync.Mutex
}

// New creates an orchestrator, building any collaborator not supplied in
// opts from the config.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Orchestrator, error) {
	o := &Orchestrator{
		config:   cfg,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		writer:   opts.Writer,
		notifier: opts.Notifier,
		tracker:  opts.Tracker,
		reporter: opts.Reporter,
	}

	if o.store == nil {
		store, err := checkpoint.New(cfg.Sync.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening state store: %w", err)
		}
		o.store = store
	}

	if o.fetcher == nil {
		token, err := o.resolveToken()
		if err != nil {
			o.store.Close()
			return nil, err
		}
		o.fetcher = extract.NewHTTPFetcher(&cfg.API, &cfg.Sync, token)
	}

	if o.writer == nil {
		writer, err := newWriter(ctx, cfg)
		if err != nil {
			o.store.Close()
			return nil, err
		}
		o.writer = writer
	}

	if o.notifier == nil {
		o.notifier = notify.New(&cfg.Slack)
	}
	if o.reporter == nil {
		o.reporter = &progress.NullReporter{}
	}

	return o, nil
}

func newWriter(ctx context.Context, cfg *config.Config) (target.Writer, error) {
	switch cfg.Target.Type {
	case "postgres":
		return target.NewPostgresWriter(ctx, &cfg.Target, cfg.Sync.Workers)
	default:
		return target.NewSQLiteWriter(cfg.Target.Path, cfg.Target.Dataset)
	}
}

// resolveToken picks the API token: an inline bearer token wins, otherwise
// the stored token for the configured auth profile.
func (o *Orchestrator) resolveToken() (string, error) {
	if o.config.API.BearerToken != "" {
		return o.config.API.BearerToken, nil
	}
	if o.config.API.AuthProfile == "" {
		return "", nil
	}
	secrets, ok := o.store.(checkpoint.SecretBackend)
	if !ok {
		return "", fmt.Errorf("auth profile %q requires the SQLite state backend", o.config.API.AuthProfile)
	}
	token, err := secrets.Token(o.config.API.AuthProfile)
	if err != nil {
		return "", fmt.Errorf("auth profile %q: %w (run 'restsync auth %s' first)",
			o.config.API.AuthProfile, err, o.config.API.AuthProfile)
	}
	return token, nil
}

// Close releases all resources.
func (o *Orchestrator) Close() {
	o.writer.Close()
	o.store.Close()
}

// SyncAll runs every configured resource through the pipeline, bounded by
// the configured worker count. The report covers all resources; err is the
// first failure, for exit-code classification.
func (o *Orchestrator) SyncAll(ctx context.Context) (*RunReport, error) {
	return o.sync(ctx, o.config.Resources)
}

// SyncResource runs a single named resource.
func (o *Orchestrator) SyncResource(ctx context.Context, name string) (*RunReport, error) {
	res := o.config.Resource(name)
	if res == nil {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	return o.sync(ctx, []config.ResourceConfig{*res})
}

func (o *Orchestrator) sync(ctx context.Context, resources []config.ResourceConfig) (*RunReport, error) {
	syncID := uuid.New().String()[:8]
	startTime := time.Now()
	logging.Info("Starting sync %s: %d resources, %d workers", syncID, len(resources), o.config.Sync.Workers)

	o.notifier.SyncStarted(syncID, o.config.API.BaseURL, o.config.Target.Type, len(resources))
	o.reporter.ReportImmediate(progress.ProgressUpdate{
		Phase:          "syncing",
		ResourcesTotal: len(resources),
	})
	if o.tracker != nil {
		o.tracker.Start()
	}

	report := &RunReport{
		SyncID:    syncID,
		StartedAt: startTime.UTC(),
		Resources: make([]ResourceReport, len(resources)),
	}

	sem := make(chan struct{}, o.config.Sync.Workers)
	var wg sync.WaitGroup
	var written atomic.Int64
	var done atomic.Int32

	for i := range resources {
		select {
		case <-ctx.Done():
			wg.Wait()
			report.finalize(time.Since(startTime))
			return report, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, res config.ResourceConfig) {
			defer wg.Done()
			defer func() { <-sem }()
			rpt := o.syncOne(ctx, syncID, &res)
			report.Resources[idx] = rpt
			o.reporter.Report(progress.ProgressUpdate{
				Phase:             "syncing",
				ResourcesComplete: int(done.Add(1)),
				ResourcesTotal:    len(resources),
				RowsWritten:       written.Add(rpt.RowsWritten),
			})
		}(i, resources[i])
	}
	wg.Wait()

	duration := time.Since(startTime)
	report.finalize(duration)

	if o.tracker != nil {
		o.tracker.Finish()
	}
	o.reporter.ReportImmediate(progress.ProgressUpdate{
		Phase:             report.Outcome,
		ResourcesComplete: report.Succeeded,
		ResourcesTotal:    len(resources),
		RowsWritten:       report.RowsWritten,
		ErrorCount:        report.Failed,
	})

	switch {
	case report.Failed == 0:
		o.notifier.SyncCompleted(syncID, startTime, duration, len(resources), report.RowsWritten)
	case report.Succeeded == 0 && report.Partial == 0:
		o.notifier.SyncFailed(syncID, report.firstError(), duration)
	default:
		o.notifier.SyncCompletedWithErrors(syncID, startTime, duration,
			report.Succeeded, report.Failed, report.RowsWritten, report.failedResources())
	}

	return report, report.firstError()
}

// syncOne runs the pipeline for one resource and records the run. Overlapping
// syncs of the same resource are refused, not queued.
func (o *Orchestrator) syncOne(ctx context.Context, syncID string, res *config.ResourceConfig) ResourceReport {
	start := time.Now()
	rpt := ResourceReport{
		Resource: res.Name,
		RunID:    syncID + "-" + res.Name,
	}

	muAny, _ := o.inFlight.LoadOrStore(res.Name, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	if !mu.TryLock() {
		logging.Warn("Skipping %s: a sync for it is already running", res.Name)
		rpt.Outcome = OutcomeSkipped
		return rpt
	}
	defer mu.Unlock()

	if o.tracker != nil {
		o.tracker.StartResource(res.Name)
		defer o.tracker.EndResource(res.Name)
	}

	startCursor, _, err := o.store.Cursor(res.Name)
	if err != nil {
		rpt.Outcome = checkpoint.OutcomeFailed
		rpt.Error = err.Error()
		return rpt
	}
	if err := o.store.CreateRun(&checkpoint.Run{
		ID:          rpt.RunID,
		Resource:    res.Name,
		StartCursor: startCursor,
	}); err != nil {
		rpt.Outcome = checkpoint.OutcomeFailed
		rpt.Error = err.Error()
		return rpt
	}

	p := &pipeline.Pipeline{
		Resource:  res,
		Fetcher:   o.fetcher,
		Writer:    o.writer,
		Store:     o.store,
		BatchSize: o.config.Sync.BatchSize,
	}
	if o.tracker != nil {
		var last int64
		var mu sync.Mutex
		p.OnBatch = func(_ string, written int64) {
			mu.Lock()
			o.tracker.Add(written - last)
			last = written
			mu.Unlock()
		}
	}

	result := p.Run(ctx)

	rpt.Outcome = result.Outcome
	rpt.StartCursor = result.StartCursor
	rpt.EndCursor = result.EndCursor
	rpt.RowsSeen = result.RowsSeen
	rpt.RowsFiltered = result.RowsFiltered
	rpt.RowsWritten = result.RowsWritten
	rpt.Pages = result.Pages
	rpt.DurationSeconds = time.Since(start).Seconds()
	if result.Err != nil {
		rpt.Error = result.Err.Error()
		o.notifier.ResourceFailed(syncID, res.Name, result.Err)
	}

	upd := checkpoint.RunUpdate{
		Outcome:      result.Outcome,
		EndCursor:    result.EndCursor,
		RowsSeen:     result.RowsSeen,
		RowsFiltered: result.RowsFiltered,
		RowsWritten:  result.RowsWritten,
		Error:        rpt.Error,
	}
	if err := o.store.CompleteRun(rpt.RunID, upd); err != nil {
		logging.Error("Recording run %s: %v", rpt.RunID, err)
	}

	return rpt
}
