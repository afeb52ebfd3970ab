package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hylla/flode/internal/app"
	"github.com/hylla/flode/internal/domain"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

var repoNow = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func buildChange(t *testing.T, tenantID, id string) domain.ChangeRequest {
	t.Helper()
	cr, err := domain.NewChangeRequest(domain.ChangeRequestInput{
		TenantID:         tenantID,
		ID:               id,
		Title:            "Replace load balancer",
		Description:      "Swap the primary LB pair",
		ChangeType:       domain.ChangeTypeNormal,
		Risk:             domain.RiskLevelHigh,
		Priority:         domain.PriorityHigh,
		ImpactAssessment: "Brief connection resets expected",
		RollbackPlan:     "Re-point DNS at the old pair",
		CreatedBy:        "user-1",
	}, repoNow)
	if err != nil {
		t.Fatalf("NewChangeRequest: %v", err)
	}
	cr.ClearEvents()
	return cr
}

func buildTask(t *testing.T, tenantID, id string) domain.Task {
	t.Helper()
	estimate := 6.5
	due := repoNow.Add(72 * time.Hour)
	task, err := domain.NewTask(domain.TaskInput{
		TenantID:       tenantID,
		ProjectID:      "proj-1",
		ID:             id,
		Title:          "Cut over DNS",
		Priority:       domain.PriorityMedium,
		EstimatedHours: &estimate,
		DueAt:          &due,
		CreatedBy:      "user-1",
	}, repoNow)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	task.ClearEvents()
	return task
}

func TestChangeRequestRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	cr := buildChange(t, "tenant-rt", "chg-rt")
	if err := cr.Submit("user-1", repoNow.Add(time.Minute)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cr.ClearEvents()
	if err := repo.CreateChangeRequest(ctx, cr); err != nil {
		t.Fatalf("CreateChangeRequest: %v", err)
	}

	got, err := repo.GetChangeRequest(ctx, "tenant-rt", "chg-rt")
	if err != nil {
		t.Fatalf("GetChangeRequest: %v", err)
	}
	if got.Title != cr.Title || got.Status != domain.ChangeStatusSubmitted {
		t.Fatalf("loaded = %q/%q, want %q/submitted", got.Title, got.Status, cr.Title)
	}
	if !got.RequiresCAB {
		t.Fatal("normal/high change must load with requires_cab set")
	}
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(repoNow.Add(time.Minute)) {
		t.Fatalf("submitted_at = %v, want %v", got.SubmittedAt, repoNow.Add(time.Minute))
	}
	if got.ScheduledStartAt != nil {
		t.Fatal("unscheduled change must load with nil scheduled_start_at")
	}
}

func TestGetChangeRequestMissing(t *testing.T) {
	repo := openTestRepo(t)
	if _, err := repo.GetChangeRequest(context.Background(), "tenant-x", "nope"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateChangeRequestVersionConflict(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	cr := buildChange(t, "tenant-cc", "chg-cc")
	if err := repo.CreateChangeRequest(ctx, cr); err != nil {
		t.Fatalf("CreateChangeRequest: %v", err)
	}

	first, err := repo.GetChangeRequest(ctx, "tenant-cc", "chg-cc")
	if err != nil {
		t.Fatalf("GetChangeRequest: %v", err)
	}
	second, err := repo.GetChangeRequest(ctx, "tenant-cc", "chg-cc")
	if err != nil {
		t.Fatalf("GetChangeRequest: %v", err)
	}

	if err := first.Submit("user-1", repoNow.Add(time.Minute)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := repo.UpdateChangeRequest(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	if err := second.Submit("user-2", repoNow.Add(2 * time.Minute)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := repo.UpdateChangeRequest(ctx, second); !errors.Is(err, app.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}

	reloaded, _ := repo.GetChangeRequest(ctx, "tenant-cc", "chg-cc")
	if reloaded.Version != first.Version+1 {
		t.Fatalf("version = %d, want %d", reloaded.Version, first.Version+1)
	}
}

func TestUpdateChangeRequestMissingRow(t *testing.T) {
	repo := openTestRepo(t)
	cr := buildChange(t, "tenant-miss", "chg-miss")
	if err := repo.UpdateChangeRequest(context.Background(), cr); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListChangeRequestsByStatusScopedToTenant(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	mine := buildChange(t, "tenant-a", "chg-a1")
	other := buildChange(t, "tenant-b", "chg-b1")
	if err := repo.CreateChangeRequest(ctx, mine); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateChangeRequest(ctx, other); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ListChangeRequestsByStatus(ctx, "tenant-a", domain.ChangeStatusDraft)
	if err != nil {
		t.Fatalf("ListChangeRequestsByStatus: %v", err)
	}
	if len(got) != 1 || got[0].ID != "chg-a1" {
		t.Fatalf("got %v, want only tenant-a's draft", got)
	}
}

// scheduleInto drives a fresh change through approval into the given window
// and persists it.
func scheduleInto(t *testing.T, repo *Repository, tenantID, id string, start, end time.Time) {
	t.Helper()
	cr := buildChange(t, tenantID, id)
	steps := []func() error{
		func() error { return cr.Submit("user-1", repoNow) },
		func() error { return cr.StartReview("cab-1", repoNow) },
		func() error { return cr.Approve("cab-1", "", repoNow) },
		func() error { return cr.Schedule(start, end, "w1", repoNow) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("schedule %s: %v", id, err)
		}
	}
	cr.ClearEvents()
	if err := repo.CreateChangeRequest(context.Background(), cr); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestSchedulerCandidateQueries(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	asOf := repoNow.Add(100 * time.Hour)

	scheduleInto(t, repo, "tenant-s", "chg-past", asOf.Add(-time.Hour), asOf.Add(time.Hour))
	scheduleInto(t, repo, "tenant-s", "chg-soon", asOf.Add(30*time.Minute), asOf.Add(2*time.Hour))
	scheduleInto(t, repo, "tenant-s", "chg-far", asOf.Add(48*time.Hour), asOf.Add(50*time.Hour))
	// Window already closed without the change ever starting.
	scheduleInto(t, repo, "tenant-s", "chg-stalled", asOf.Add(-6*time.Hour), asOf.Add(-3*time.Hour))

	due, err := repo.ListChangeRequestsDueToStart(ctx, asOf)
	if err != nil {
		t.Fatalf("ListChangeRequestsDueToStart: %v", err)
	}
	if len(due) != 2 || due[0].ID != "chg-stalled" || due[1].ID != "chg-past" {
		t.Fatalf("due = %v, want chg-stalled then chg-past", ids(due))
	}

	between, err := repo.ListChangeRequestsStartingBetween(ctx, asOf, asOf.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListChangeRequestsStartingBetween: %v", err)
	}
	if len(between) != 1 || between[0].ID != "chg-soon" {
		t.Fatalf("between = %v, want only chg-soon", ids(between))
	}

	// Start the past change and move the clock beyond its window.
	executing, _ := repo.GetChangeRequest(ctx, "tenant-s", "chg-past")
	if err := executing.StartExecution(asOf); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	executing.ClearEvents()
	if err := repo.UpdateChangeRequest(ctx, executing); err != nil {
		t.Fatalf("UpdateChangeRequest: %v", err)
	}

	overdue, err := repo.ListOverdueChangeRequests(ctx, asOf.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListOverdueChangeRequests: %v", err)
	}
	if len(overdue) != 2 || overdue[0].ID != "chg-stalled" || overdue[1].ID != "chg-past" {
		t.Fatalf("overdue = %v, want chg-stalled then chg-past", ids(overdue))
	}
}

func TestCandidateQueriesCompareSubSecondInstants(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// A whole-second start must sort before a sub-second asOf in the same
	// second, which only holds when the stored text has fixed-width
	// fractional seconds.
	start := repoNow.Add(100 * time.Hour).Truncate(time.Second)
	scheduleInto(t, repo, "tenant-ns", "chg-whole", start, start.Add(time.Hour))

	due, err := repo.ListChangeRequestsDueToStart(ctx, start.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("ListChangeRequestsDueToStart: %v", err)
	}
	if len(due) != 1 || due[0].ID != "chg-whole" {
		t.Fatalf("due = %v, want chg-whole", ids(due))
	}

	overdue, err := repo.ListOverdueChangeRequests(ctx, start.Add(time.Hour).Add(250*time.Millisecond))
	if err != nil {
		t.Fatalf("ListOverdueChangeRequests: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != "chg-whole" {
		t.Fatalf("overdue = %v, want chg-whole", ids(overdue))
	}
}

func ids(crs []domain.ChangeRequest) []string {
	out := make([]string, len(crs))
	for i, cr := range crs {
		out[i] = cr.ID
	}
	return out
}

func TestTaskRoundTripWithChildren(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	task := buildTask(t, "tenant-task", "task-rt")
	if _, err := task.AddChecklistItem("cl-1", "announce downtime", repoNow); err != nil {
		t.Fatalf("AddChecklistItem: %v", err)
	}
	if _, err := task.AddChecklistItem("cl-2", "update runbook", repoNow); err != nil {
		t.Fatalf("AddChecklistItem: %v", err)
	}
	if err := task.CompleteChecklistItem("cl-1", "user-2", repoNow.Add(time.Hour)); err != nil {
		t.Fatalf("CompleteChecklistItem: %v", err)
	}
	if _, err := task.LogActivity("act-1", domain.ActivityTypeComment, "waiting on approvals", "user-2", map[string]string{"channel": "chat"}, repoNow.Add(time.Hour)); err != nil {
		t.Fatalf("LogActivity: %v", err)
	}
	task.ClearEvents()

	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := repo.GetTask(ctx, "tenant-task", "task-rt")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.EstimatedHours == nil || *got.EstimatedHours != 6.5 {
		t.Fatalf("estimated hours = %v, want 6.5", got.EstimatedHours)
	}
	if len(got.Checklist) != 2 {
		t.Fatalf("checklist len = %d, want 2", len(got.Checklist))
	}
	if got.Checklist[0].ID != "cl-1" || !got.Checklist[0].Completed || got.Checklist[0].CompletedBy != "user-2" {
		t.Fatalf("first item = %+v, want completed cl-1 by user-2", got.Checklist[0])
	}
	if got.Checklist[1].Completed {
		t.Fatal("second item must load incomplete")
	}
	if len(got.Activity) == 0 {
		t.Fatal("activity log must round-trip")
	}
	last := got.Activity[len(got.Activity)-1]
	if last.Type != domain.ActivityTypeComment || last.Detail["channel"] != "chat" {
		t.Fatalf("activity = %+v, want comment with channel detail", last)
	}
}

func TestUpdateTaskRewritesChildren(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	task := buildTask(t, "tenant-task2", "task-rw")
	if _, err := task.AddChecklistItem("cl-1", "drain traffic", repoNow); err != nil {
		t.Fatalf("AddChecklistItem: %v", err)
	}
	task.ClearEvents()
	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	loaded, err := repo.GetTask(ctx, "tenant-task2", "task-rw")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if err := loaded.CompleteChecklistItem("cl-1", "user-3", repoNow.Add(time.Hour)); err != nil {
		t.Fatalf("CompleteChecklistItem: %v", err)
	}
	loaded.ClearEvents()
	if err := repo.UpdateTask(ctx, loaded); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	reloaded, err := repo.GetTask(ctx, "tenant-task2", "task-rw")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(reloaded.Checklist) != 1 || !reloaded.Checklist[0].Completed {
		t.Fatalf("checklist = %+v, want single completed item", reloaded.Checklist)
	}
	if reloaded.Version != loaded.Version+1 {
		t.Fatalf("version = %d, want %d", reloaded.Version, loaded.Version+1)
	}
}

func TestUpdateTaskVersionConflict(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	task := buildTask(t, "tenant-task3", "task-cc")
	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	a, _ := repo.GetTask(ctx, "tenant-task3", "task-cc")
	b, _ := repo.GetTask(ctx, "tenant-task3", "task-cc")

	if err := a.Claim("user-1", repoNow.Add(time.Minute)); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	a.ClearEvents()
	if err := repo.UpdateTask(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}

	if err := b.Claim("user-2", repoNow.Add(time.Minute)); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	b.ClearEvents()
	if err := repo.UpdateTask(ctx, b); !errors.Is(err, app.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}

	winner, _ := repo.GetTask(ctx, "tenant-task3", "task-cc")
	if winner.AssignedToUserID != "user-1" {
		t.Fatalf("assigned to %q, first claim must win", winner.AssignedToUserID)
	}
}

func TestEventLedgerAppendAndList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.AppendEvent(ctx, domain.Event{
			Name:          domain.EventChangeSubmitted,
			AggregateType: domain.AggregateTypeChangeRequest,
			AggregateID:   "chg-led",
			TenantID:      "tenant-led",
			ActorID:       "user-1",
			Payload:       map[string]string{"seq": string(rune('a' + i))},
			OccurredAt:    repoNow.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	// A row for another aggregate must not leak into the listing.
	if err := repo.AppendEvent(ctx, domain.Event{
		Name:        domain.EventTaskCreated,
		AggregateID: "task-led",
		TenantID:    "tenant-led",
		OccurredAt:  repoNow,
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := repo.ListEvents(ctx, "tenant-led", "chg-led", 2)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want limit of 2", len(got))
	}
	if !got[0].OccurredAt.After(got[1].OccurredAt) {
		t.Fatal("ledger must list most recent first")
	}
	if got[0].Payload["seq"] != "c" {
		t.Fatalf("newest payload seq = %q, want c", got[0].Payload["seq"])
	}

	all, err := repo.ListEvents(ctx, "tenant-led", "chg-led", 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unlimited len = %d, want 3", len(all))
	}
}
