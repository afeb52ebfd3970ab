package domain

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// ChangeRequest is the aggregate that owns the change-approval state machine.
// All cross-aggregate references (creator, reviewer, approver) are opaque user
// ids. Transitions validate every precondition before mutating any field, so
// a rejected call leaves the aggregate untouched.
type ChangeRequest struct {
	recorder

	TenantID    string
	ID          string
	Title       string
	Description string

	ChangeType  ChangeType
	Risk        RiskLevel
	Priority    Priority
	Status      ChangeStatus
	RequiresCAB bool

	ImpactAssessment string
	RollbackPlan     string
	ReviewNotes      string
	DenialReason     string
	FailureReason    string
	RollbackReason   string
	CancelReason     string

	ScheduledStartAt  *time.Time
	ScheduledEndAt    *time.Time
	MaintenanceWindow string

	CreatedBy  string
	ReviewedBy string
	ApprovedBy string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	SubmittedAt  *time.Time
	ReviewedAt   *time.Time
	ApprovedAt   *time.Time
	DeniedAt     *time.Time
	ScheduledAt  *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
	RolledBackAt *time.Time
	CancelledAt  *time.Time

	// Version is the optimistic-concurrency token maintained by the
	// persistence adapter. The aggregate never touches it.
	Version int64
}

// ChangeRequestInput carries the caller-supplied fields for a new change request.
type ChangeRequestInput struct {
	TenantID         string
	ID               string
	Title            string
	Description      string
	ChangeType       ChangeType
	Risk             RiskLevel
	Priority         Priority
	ImpactAssessment string
	RollbackPlan     string
	CreatedBy        string
}

// NewChangeRequest validates input and constructs a draft change request.
// RequiresCAB is derived once here and re-derived on every risk update.
func NewChangeRequest(in ChangeRequestInput, now time.Time) (ChangeRequest, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)

	if in.TenantID == "" {
		return ChangeRequest{}, validationErr("tenant_id", "must not be empty")
	}
	if in.ID == "" {
		return ChangeRequest{}, ErrInvalidID
	}
	if in.Title == "" {
		return ChangeRequest{}, ErrInvalidTitle
	}
	if in.CreatedBy == "" {
		return ChangeRequest{}, validationErr("created_by", "must not be empty")
	}
	if !slices.Contains(validChangeTypes, in.ChangeType) {
		return ChangeRequest{}, validationErr("change_type", "unknown change type")
	}
	if !slices.Contains(validRiskLevels, in.Risk) {
		return ChangeRequest{}, validationErr("risk_level", "unknown risk level")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !slices.Contains(validPriorities, in.Priority) {
		return ChangeRequest{}, validationErr("priority", "unknown priority")
	}

	ts := now.UTC()
	cr := ChangeRequest{
		TenantID:         in.TenantID,
		ID:               in.ID,
		Title:            in.Title,
		Description:      in.Description,
		ChangeType:       in.ChangeType,
		Risk:             in.Risk,
		Priority:         in.Priority,
		Status:           ChangeStatusDraft,
		RequiresCAB:      RequiresCABApproval(in.ChangeType, in.Risk),
		ImpactAssessment: strings.TrimSpace(in.ImpactAssessment),
		RollbackPlan:     strings.TrimSpace(in.RollbackPlan),
		CreatedBy:        in.CreatedBy,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	cr.recordTransition(EventChangeCreated, in.CreatedBy, ts, map[string]string{
		"change_type":  string(in.ChangeType),
		"risk_level":   string(in.Risk),
		"requires_cab": strconv.FormatBool(cr.RequiresCAB),
	})
	return cr, nil
}

// Submit moves a draft into the review queue.
func (c *ChangeRequest) Submit(actorID string, now time.Time) error {
	if !c.Status.CanSubmit() {
		return transitionErr("submit", string(c.Status))
	}
	ts := now.UTC()
	c.Status = ChangeStatusSubmitted
	c.SubmittedAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeSubmitted, actorID, ts, nil)
	return nil
}

// StartReview claims a submitted change for review.
func (c *ChangeRequest) StartReview(reviewerID string, now time.Time) error {
	reviewerID = strings.TrimSpace(reviewerID)
	if !c.Status.CanStartReview() {
		return transitionErr("start review", string(c.Status))
	}
	if reviewerID == "" {
		return validationErr("reviewer_id", "must not be empty")
	}
	ts := now.UTC()
	c.Status = ChangeStatusUnderReview
	c.ReviewedBy = reviewerID
	c.ReviewedAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeReviewStarted, reviewerID, ts, map[string]string{
		"reviewer_id": reviewerID,
	})
	return nil
}

// Approve records the approval decision. Notes are optional.
func (c *ChangeRequest) Approve(approverID, notes string, now time.Time) error {
	approverID = strings.TrimSpace(approverID)
	if !c.Status.CanApprove() {
		return transitionErr("approve", string(c.Status))
	}
	if approverID == "" {
		return validationErr("approver_id", "must not be empty")
	}
	ts := now.UTC()
	c.Status = ChangeStatusApproved
	c.ApprovedBy = approverID
	c.ApprovedAt = &ts
	c.ReviewNotes = strings.TrimSpace(notes)
	c.UpdatedAt = ts
	c.recordTransition(EventChangeApproved, approverID, ts, map[string]string{
		"approver_id": approverID,
	})
	return nil
}

// Deny rejects the change with a mandatory reason.
func (c *ChangeRequest) Deny(actorID, reason string, now time.Time) error {
	if !c.Status.CanDeny() {
		return transitionErr("deny", string(c.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationErr("reason", "denial reason must not be empty")
	}
	ts := now.UTC()
	c.Status = ChangeStatusDenied
	c.DenialReason = reason
	c.DeniedAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeDenied, actorID, ts, map[string]string{
		"reason": reason,
	})
	return nil
}

// Schedule pins an approved change onto a maintenance window. The window
// label is free text; start must precede end.
func (c *ChangeRequest) Schedule(start, end time.Time, window string, now time.Time) error {
	if !c.Status.CanSchedule() {
		return transitionErr("schedule", string(c.Status))
	}
	if start.IsZero() || end.IsZero() {
		return validationErr("schedule_window", "start and end must be set")
	}
	if !start.Before(end) {
		return validationErr("schedule_window", "start must be before end")
	}
	ts := now.UTC()
	startUTC := start.UTC()
	endUTC := end.UTC()
	c.Status = ChangeStatusScheduled
	c.ScheduledStartAt = &startUTC
	c.ScheduledEndAt = &endUTC
	c.MaintenanceWindow = strings.TrimSpace(window)
	c.ScheduledAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeScheduled, c.ApprovedBy, ts, map[string]string{
		"start":  startUTC.Format(time.RFC3339),
		"end":    endUTC.Format(time.RFC3339),
		"window": c.MaintenanceWindow,
	})
	return nil
}

// StartExecution begins the scheduled work. The auto-start job and
// interactive callers share this path.
func (c *ChangeRequest) StartExecution(now time.Time) error {
	if !c.Status.CanStartExecution() {
		return transitionErr("start execution", string(c.Status))
	}
	ts := now.UTC()
	c.Status = ChangeStatusInProgress
	c.StartedAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeStarted, "", ts, nil)
	return nil
}

// Complete closes out an in-progress change.
func (c *ChangeRequest) Complete(actorID string, now time.Time) error {
	if !c.Status.CanComplete() {
		return transitionErr("complete", string(c.Status))
	}
	ts := now.UTC()
	c.Status = ChangeStatusCompleted
	c.CompletedAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeCompleted, actorID, ts, nil)
	return nil
}

// MarkAsFailed records an execution failure with a mandatory reason.
func (c *ChangeRequest) MarkAsFailed(actorID, reason string, now time.Time) error {
	if !c.Status.CanFail() {
		return transitionErr("mark as failed", string(c.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationErr("reason", "failure reason must not be empty")
	}
	ts := now.UTC()
	c.Status = ChangeStatusFailed
	c.FailureReason = reason
	c.FailedAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeFailed, actorID, ts, map[string]string{
		"reason": reason,
	})
	return nil
}

// Rollback reverts a failed or in-progress change with a mandatory reason.
func (c *ChangeRequest) Rollback(actorID, reason string, now time.Time) error {
	if !c.Status.CanRollback() {
		return transitionErr("rollback", string(c.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationErr("reason", "rollback reason must not be empty")
	}
	ts := now.UTC()
	c.Status = ChangeStatusRolledBack
	c.RollbackReason = reason
	c.RolledBackAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeRolledBack, actorID, ts, map[string]string{
		"reason": reason,
	})
	return nil
}

// Cancel withdraws the change. A reason is optional.
func (c *ChangeRequest) Cancel(actorID, reason string, now time.Time) error {
	if !c.Status.CanCancel() {
		return transitionErr("cancel", string(c.Status))
	}
	ts := now.UTC()
	c.Status = ChangeStatusCancelled
	c.CancelReason = strings.TrimSpace(reason)
	c.CancelledAt = &ts
	c.UpdatedAt = ts
	c.recordTransition(EventChangeCancelled, actorID, ts, map[string]string{
		"reason": c.CancelReason,
	})
	return nil
}

// UpdateRiskLevel revises the risk grade while the change is still malleable
// and re-derives the CAB gating flag from the lookup table.
func (c *ChangeRequest) UpdateRiskLevel(risk RiskLevel, actorID string, now time.Time) error {
	if !c.Status.CanUpdateRisk() {
		return transitionErr("update risk level", string(c.Status))
	}
	if !slices.Contains(validRiskLevels, risk) {
		return validationErr("risk_level", "unknown risk level")
	}
	ts := now.UTC()
	c.Risk = risk
	c.RequiresCAB = RequiresCABApproval(c.ChangeType, risk)
	c.UpdatedAt = ts
	c.recordTransition(EventChangeRiskUpdated, actorID, ts, map[string]string{
		"risk_level":   string(risk),
		"requires_cab": strconv.FormatBool(c.RequiresCAB),
	})
	return nil
}

// UpdateAssessment revises the impact assessment and rollback plan while the
// change has not yet been approved.
func (c *ChangeRequest) UpdateAssessment(impact, rollbackPlan string, now time.Time) error {
	if !c.Status.CanUpdateRisk() {
		return transitionErr("update assessment", string(c.Status))
	}
	c.ImpactAssessment = strings.TrimSpace(impact)
	c.RollbackPlan = strings.TrimSpace(rollbackPlan)
	c.UpdatedAt = now.UTC()
	return nil
}

// recordTransition appends a transition event carrying the aggregate
// identity, title and transition-specific payload.
func (c *ChangeRequest) recordTransition(name, actorID string, ts time.Time, payload map[string]string) {
	if payload == nil {
		payload = map[string]string{}
	}
	payload["title"] = c.Title
	payload["status"] = string(c.Status)
	c.record(Event{
		Name:          name,
		AggregateType: AggregateTypeChangeRequest,
		AggregateID:   c.ID,
		TenantID:      c.TenantID,
		ActorID:       strings.TrimSpace(actorID),
		Payload:       payload,
		OccurredAt:    ts,
	})
}
