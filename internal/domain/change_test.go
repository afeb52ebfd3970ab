package domain

import (
	"testing"
	"time"
)

func draftChange(t *testing.T, now time.Time) ChangeRequest {
	t.Helper()
	cr, err := NewChangeRequest(ChangeRequestInput{
		TenantID:    "tenant-1",
		ID:          "cr-1",
		Title:       "Upgrade database cluster",
		Description: "Move primary to the new hardware",
		ChangeType:  ChangeTypeNormal,
		Risk:        RiskLevelMedium,
		CreatedBy:   "user-1",
	}, now)
	if err != nil {
		t.Fatalf("NewChangeRequest() error = %v", err)
	}
	return cr
}

func TestNewChangeRequestDerivesCABApproval(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cr := draftChange(t, now)
	if cr.Status != ChangeStatusDraft {
		t.Fatalf("unexpected status %q", cr.Status)
	}
	if !cr.RequiresCAB {
		t.Fatal("normal/medium change should require CAB approval")
	}
	events := cr.Events()
	if len(events) != 1 || events[0].Name != EventChangeCreated {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestNewChangeRequestValidation(t *testing.T) {
	now := time.Now()
	base := ChangeRequestInput{
		TenantID:   "tenant-1",
		ID:         "cr-1",
		Title:      "title",
		ChangeType: ChangeTypeNormal,
		Risk:       RiskLevelLow,
		CreatedBy:  "user-1",
	}

	in := base
	in.ID = "  "
	if _, err := NewChangeRequest(in, now); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	in = base
	in.Title = ""
	if _, err := NewChangeRequest(in, now); err != ErrInvalidTitle {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
	in = base
	in.ChangeType = "weird"
	if _, err := NewChangeRequest(in, now); !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	in = base
	in.CreatedBy = " "
	if _, err := NewChangeRequest(in, now); !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSubmitAndReviewScenario(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cr := draftChange(t, now)
	cr.ClearEvents()

	if err := cr.Submit("user-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if cr.Status != ChangeStatusSubmitted {
		t.Fatalf("unexpected status %q", cr.Status)
	}
	if cr.SubmittedAt == nil || !cr.SubmittedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected submitted timestamp %v", cr.SubmittedAt)
	}

	if err := cr.StartReview("reviewer-1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("StartReview() error = %v", err)
	}
	if cr.ReviewedBy != "reviewer-1" {
		t.Fatalf("unexpected reviewer %q", cr.ReviewedBy)
	}

	// Second review attempt hits the transition guard, not validation.
	err := cr.StartReview("reviewer-2", now.Add(3*time.Minute))
	if !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if cr.ReviewedBy != "reviewer-1" {
		t.Fatalf("failed transition mutated reviewer to %q", cr.ReviewedBy)
	}

	events := cr.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Name != EventChangeSubmitted || events[1].Name != EventChangeReviewStarted {
		t.Fatalf("unexpected event order %q, %q", events[0].Name, events[1].Name)
	}
}

func TestIllegalTransitionsLeaveStateUntouched(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cr := draftChange(t, now)
	before := cr
	cr.ClearEvents()

	attempts := []error{
		cr.StartReview("r", now),
		cr.Approve("a", "", now),
		cr.Deny("a", "reason", now),
		cr.Schedule(now, now.Add(time.Hour), "", now),
		cr.StartExecution(now),
		cr.Complete("a", now),
		cr.MarkAsFailed("a", "reason", now),
		cr.Rollback("a", "reason", now),
	}
	for i, err := range attempts {
		if !IsInvalidTransition(err) {
			t.Fatalf("attempt %d: expected InvalidTransitionError, got %v", i, err)
		}
	}
	if cr.Status != before.Status {
		t.Fatalf("status mutated to %q", cr.Status)
	}
	if cr.SubmittedAt != nil || cr.ApprovedAt != nil || cr.StartedAt != nil || cr.CompletedAt != nil {
		t.Fatal("timestamp fields mutated by rejected transitions")
	}
	if len(cr.Events()) != 0 {
		t.Fatal("rejected transitions recorded events")
	}
}

func TestDenyRequiresReason(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cr := draftChange(t, now)
	mustSubmitAndReview(t, &cr, now)

	if err := cr.Deny("reviewer-1", "   ", now); !IsValidation(err) {
		t.Fatalf("expected ValidationError for blank reason, got %v", err)
	}
	if cr.Status != ChangeStatusUnderReview {
		t.Fatalf("blank reason mutated status to %q", cr.Status)
	}
	if err := cr.Deny("reviewer-1", "insufficient rollback plan", now); err != nil {
		t.Fatalf("Deny() error = %v", err)
	}
	if cr.DenialReason != "insufficient rollback plan" {
		t.Fatalf("unexpected denial reason %q", cr.DenialReason)
	}
	if !cr.Status.IsTerminal() {
		t.Fatal("denied change should be terminal")
	}
}

func TestScheduleValidatesWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cr := approvedChange(t, now)

	start := now.Add(48 * time.Hour)
	if err := cr.Schedule(start, start, "", now); !IsValidation(err) {
		t.Fatalf("expected ValidationError for start == end, got %v", err)
	}
	if err := cr.Schedule(start, start.Add(-time.Hour), "", now); !IsValidation(err) {
		t.Fatalf("expected ValidationError for start after end, got %v", err)
	}
	if err := cr.Schedule(start, start.Add(2*time.Hour), "Saturday night window", now); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if cr.Status != ChangeStatusScheduled {
		t.Fatalf("unexpected status %q", cr.Status)
	}
	if cr.MaintenanceWindow != "Saturday night window" {
		t.Fatalf("unexpected window %q", cr.MaintenanceWindow)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cr := scheduledChange(t, now)

	if err := cr.StartExecution(now.Add(time.Hour)); err != nil {
		t.Fatalf("StartExecution() error = %v", err)
	}
	if cr.StartedAt == nil {
		t.Fatal("expected actual start timestamp")
	}

	if err := cr.MarkAsFailed("op-1", "migration script crashed", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("MarkAsFailed() error = %v", err)
	}
	if cr.Status != ChangeStatusFailed {
		t.Fatalf("unexpected status %q", cr.Status)
	}

	if err := cr.Rollback("op-1", " ", now.Add(3*time.Hour)); !IsValidation(err) {
		t.Fatalf("expected ValidationError for blank rollback reason, got %v", err)
	}
	if err := cr.Rollback("op-1", "restored from snapshot", now.Add(3*time.Hour)); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !cr.Status.IsTerminal() {
		t.Fatal("rolled-back change should be terminal")
	}
}

func TestCancelGating(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	cr := scheduledChange(t, now)
	if err := cr.Cancel("user-1", "", now); err != nil {
		t.Fatalf("Cancel() from scheduled error = %v", err)
	}
	if cr.Status != ChangeStatusCancelled {
		t.Fatalf("unexpected status %q", cr.Status)
	}

	running := scheduledChange(t, now)
	if err := running.StartExecution(now); err != nil {
		t.Fatalf("StartExecution() error = %v", err)
	}
	if err := running.Cancel("user-1", "", now); !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError cancelling in-progress change, got %v", err)
	}
}

func TestUpdateRiskLevelRederivesCAB(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cr, err := NewChangeRequest(ChangeRequestInput{
		TenantID:   "tenant-1",
		ID:         "cr-2",
		Title:      "Rotate TLS certificates",
		ChangeType: ChangeTypeEmergency,
		Risk:       RiskLevelLow,
		CreatedBy:  "user-1",
	}, now)
	if err != nil {
		t.Fatalf("NewChangeRequest() error = %v", err)
	}
	if cr.RequiresCAB {
		t.Fatal("emergency/low should not require CAB approval")
	}

	if err := cr.UpdateRiskLevel(RiskLevelHigh, "user-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateRiskLevel() error = %v", err)
	}
	if !cr.RequiresCAB {
		t.Fatal("emergency/high should require CAB approval")
	}

	mustSubmitAndReview(t, &cr, now)
	if err := cr.UpdateRiskLevel(RiskLevelLow, "user-1", now); err != nil {
		t.Fatalf("UpdateRiskLevel() under review error = %v", err)
	}
	if cr.RequiresCAB {
		t.Fatal("emergency/low should clear the CAB flag after re-derivation")
	}

	if err := cr.Approve("approver-1", "", now); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if err := cr.UpdateRiskLevel(RiskLevelHigh, "user-1", now); !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError after approval, got %v", err)
	}
}

func mustSubmitAndReview(t *testing.T, cr *ChangeRequest, now time.Time) {
	t.Helper()
	if err := cr.Submit("user-1", now); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := cr.StartReview("reviewer-1", now); err != nil {
		t.Fatalf("StartReview() error = %v", err)
	}
}

func approvedChange(t *testing.T, now time.Time) ChangeRequest {
	t.Helper()
	cr := draftChange(t, now)
	mustSubmitAndReview(t, &cr, now)
	if err := cr.Approve("approver-1", "looks good", now); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	return cr
}

func scheduledChange(t *testing.T, now time.Time) ChangeRequest {
	t.Helper()
	cr := approvedChange(t, now)
	if err := cr.Schedule(now.Add(24*time.Hour), now.Add(26*time.Hour), "window", now); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	return cr
}
