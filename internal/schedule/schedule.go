// Package schedule runs syncs on a cron schedule for serve mode.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/johndauphine/restsync/internal/logging"
)

// Scheduler triggers a sync function on a cron expression. Overlapping
// triggers are harmless: the orchestrator skips resources that are still
// in flight.
type Scheduler struct {
	cron *cron.Cron
	spec string
	run  func(context.Context)
}

// New validates the cron expression and prepares the scheduler.
// Standard five-field expressions are accepted ("*/15 * * * *").
func New(spec string, run func(context.Context)) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: cron.New(), spec: spec, run: run}, nil
}

// Run blocks until ctx is cancelled, firing the sync on each tick.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		logging.Info("Schedule fired: %s", s.spec)
		s.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling sync: %w", err)
	}

	s.cron.Start()
	logging.Info("Scheduler running (%s), waiting for ticks", s.spec)

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	// Let an in-flight tick finish before returning
	<-stopCtx.Done()
	return ctx.Err()
}
