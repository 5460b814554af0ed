// Package scheduler runs a gatherer on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cryptobars/internal/gather"
)

// Scheduler triggers a Gatherer on a six-field (seconds first) cron spec
// evaluated in UTC. At most one run is in flight; triggers that fire while a
// run is active are skipped.
type Scheduler struct {
	cron     *cron.Cron
	job      gather.Gatherer
	ctx      context.Context
	running  atomic.Bool
	onResult func(gather.Report, error)
	log      *slog.Logger
}

// New creates a Scheduler. Runs use ctx, and onResult, when non-nil, is
// called after every completed run.
func New(ctx context.Context, job gather.Gatherer, onResult func(gather.Report, error)) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		job:      job,
		ctx:      ctx,
		onResult: onResult,
		log:      slog.Default().With("component", "scheduler", "job", job.Name()),
	}
}

// Register schedules the job on spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("register %s on %q: %w", s.job.Name(), spec, err)
	}
	s.log.Info("job registered", "cron", spec)
	return nil
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops scheduling new runs and waits for an active run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow runs the job synchronously, unless a run is already in progress.
// It reports whether the job ran.
func (s *Scheduler) RunNow() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous run still in progress, skipping")
		return false
	}
	defer s.running.Store(false)

	report, err := s.job.Run(s.ctx)
	if err != nil {
		s.log.Error("run failed", "error", err, "elapsed", report.Elapsed)
	}
	if s.onResult != nil {
		s.onResult(report, err)
	}
	return true
}
