package scheduler

import (
	"context"
	"fmt"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/flode/internal/app"
	"github.com/hylla/flode/internal/domain"
)

// eventBatch lets a job feed synthetic events through the dispatcher using
// the same drain contract the aggregates use.
type eventBatch struct {
	events []domain.Event
}

func (b *eventBatch) Events() []domain.Event { return b.events }
func (b *eventBatch) ClearEvents()           { b.events = nil }

// AutoStartJob moves approved, scheduled changes into execution once their
// scheduled start has passed. Each candidate is processed independently so
// one failing change never blocks the rest of the pass.
type AutoStartJob struct {
	repo   app.Repository
	svc    *app.Service
	clock  app.Clock
	logger *charmLog.Logger
}

// NewAutoStartJob constructs the auto-start job.
func NewAutoStartJob(repo app.Repository, svc *app.Service, clock app.Clock, logger *charmLog.Logger) *AutoStartJob {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &AutoStartJob{repo: repo, svc: svc, clock: clock, logger: logger}
}

func (j *AutoStartJob) Name() string { return "auto_start" }

// Run starts every scheduled change whose window has opened.
func (j *AutoStartJob) Run(ctx context.Context) error {
	now := j.clock().UTC()
	due, err := j.repo.ListChangeRequestsDueToStart(ctx, now)
	if err != nil {
		return fmt.Errorf("list due changes: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var failed int
	for _, cr := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := j.svc.StartChangeExecution(ctx, cr.TenantID, cr.ID); err != nil {
			failed++
			j.logger.Error("auto-start failed",
				"tenant_id", cr.TenantID, "change_id", cr.ID, "err", err)
		}
	}
	j.logger.Info("auto-start pass complete",
		"candidates", len(due), "started", len(due)-failed, "failed", failed)
	return nil
}

// ReminderJob publishes a reminder event for each scheduled change whose
// start falls a configured lead time away. The job is read-only: it never
// mutates the change, and the notification handler deduplicates repeats, so
// firing again on the next tick is harmless.
type ReminderJob struct {
	repo       app.Repository
	dispatcher *app.Dispatcher
	clock      app.Clock
	leads      []time.Duration
	window     time.Duration
	logger     *charmLog.Logger
}

// NewReminderJob constructs the reminder job. The window should match the
// runner's tick interval so consecutive passes cover contiguous slices of
// the timeline.
func NewReminderJob(repo app.Repository, dispatcher *app.Dispatcher, clock app.Clock, leads []time.Duration, window time.Duration, logger *charmLog.Logger) *ReminderJob {
	if clock == nil {
		clock = time.Now
	}
	if len(leads) == 0 {
		leads = []time.Duration{24 * time.Hour, time.Hour}
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &ReminderJob{repo: repo, dispatcher: dispatcher, clock: clock, leads: leads, window: window, logger: logger}
}

func (j *ReminderJob) Name() string { return "reminder" }

// Run publishes one reminder per (change, lead) pair whose scheduled start
// lands inside this tick's window.
func (j *ReminderJob) Run(ctx context.Context) error {
	now := j.clock().UTC()

	var published int
	for _, lead := range j.leads {
		from := now.Add(lead)
		to := from.Add(j.window)
		candidates, err := j.repo.ListChangeRequestsStartingBetween(ctx, from, to)
		if err != nil {
			return fmt.Errorf("list changes starting between %s and %s: %w", from, to, err)
		}

		batch := &eventBatch{}
		for _, cr := range candidates {
			if cr.ScheduledStartAt == nil {
				continue
			}
			batch.events = append(batch.events, domain.Event{
				Name:          domain.EventChangeReminderDue,
				AggregateType: domain.AggregateTypeChangeRequest,
				AggregateID:   cr.ID,
				TenantID:      cr.TenantID,
				Payload: map[string]string{
					"title":           cr.Title,
					"lead":            lead.String(),
					"scheduled_start": cr.ScheduledStartAt.Format(time.RFC3339),
				},
				OccurredAt: now,
			})
		}
		published += len(batch.events)
		j.dispatcher.Dispatch(ctx, batch)
	}

	if published > 0 {
		j.logger.Info("reminder pass complete", "published", published)
	}
	return nil
}

// OverdueJob publishes an overdue event for each executing change whose
// scheduled end has passed. Like the reminder job it is read-only and leans
// on handler-side deduplication.
type OverdueJob struct {
	repo       app.Repository
	dispatcher *app.Dispatcher
	clock      app.Clock
	logger     *charmLog.Logger
}

// NewOverdueJob constructs the overdue job.
func NewOverdueJob(repo app.Repository, dispatcher *app.Dispatcher, clock app.Clock, logger *charmLog.Logger) *OverdueJob {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &OverdueJob{repo: repo, dispatcher: dispatcher, clock: clock, logger: logger}
}

func (j *OverdueJob) Name() string { return "overdue" }

// Run publishes an overdue event per change still executing past its
// scheduled end.
func (j *OverdueJob) Run(ctx context.Context) error {
	now := j.clock().UTC()
	overdue, err := j.repo.ListOverdueChangeRequests(ctx, now)
	if err != nil {
		return fmt.Errorf("list overdue changes: %w", err)
	}
	if len(overdue) == 0 {
		return nil
	}

	batch := &eventBatch{}
	for _, cr := range overdue {
		payload := map[string]string{
			"title":  cr.Title,
			"status": string(cr.Status),
		}
		if cr.ScheduledEndAt != nil {
			payload["scheduled_end"] = cr.ScheduledEndAt.Format(time.RFC3339)
			payload["overdue_by"] = now.Sub(*cr.ScheduledEndAt).Truncate(time.Second).String()
		}
		batch.events = append(batch.events, domain.Event{
			Name:          domain.EventChangeOverdue,
			AggregateType: domain.AggregateTypeChangeRequest,
			AggregateID:   cr.ID,
			TenantID:      cr.TenantID,
			Payload:       payload,
			OccurredAt:    now,
		})
	}
	published := len(batch.events)
	j.dispatcher.Dispatch(ctx, batch)
	j.logger.Info("overdue pass complete", "published", published)
	return nil
}
