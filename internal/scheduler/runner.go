// Package scheduler implements the polling jobs that advance scheduled
// change requests and publish time-based notification events. There is no
// external job system: each job is a query plus a loop, run on a shared
// ticker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	charmLog "github.com/charmbracelet/log"
)

// Job is a single polling pass. Run scans for candidates as of the current
// tick and processes each one independently; it returns an error only when
// the scan itself fails, not when individual candidates do.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner ticks every job at a fixed interval until the context is
// cancelled. A job whose scan fails is retried with a short backoff before
// the runner gives up until the next tick.
type Runner struct {
	jobs     []Job
	interval time.Duration
	attempts int
	backoff  time.Duration
	logger   *charmLog.Logger
}

// NewRunner constructs a runner. Zero values fall back to one-minute ticks
// and three attempts five seconds apart.
func NewRunner(interval time.Duration, attempts int, backoff time.Duration, logger *charmLog.Logger, jobs ...Job) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Runner{
		jobs:     jobs,
		interval: interval,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
	}
}

// Interval reports the tick spacing. Jobs that window their queries by tick
// width read it to stay aligned with the runner.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
// The first pass runs immediately so a freshly started process does not
// wait a full interval before noticing overdue work.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("scheduler started", "tick_interval", r.interval, "jobs", len(r.jobs))

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass over every job and reports the jobs whose
// retry budget was exhausted. The ticking loop logs and carries on; one-shot
// callers propagate the error so their exit status reflects the failure.
func (r *Runner) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.runWithRetry(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// runWithRetry runs one job up to the attempt budget and returns the final
// error once the budget is spent.
func (r *Runner) runWithRetry(ctx context.Context, job Job) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		started := time.Now()
		if err = job.Run(ctx); err == nil {
			r.logger.Debug("job pass complete", "job", job.Name(), "duration", time.Since(started))
			return nil
		}
		r.logger.Warn("job pass failed",
			"job", job.Name(), "attempt", attempt, "max_attempts", r.attempts, "err", err)
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff):
		}
	}
	r.logger.Error("job giving up until next tick", "job", job.Name(), "err", err)
	return err
}
