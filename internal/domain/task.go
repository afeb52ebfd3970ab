package domain

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// maxResolutionNotesLen bounds the free-text resolution notes.
const maxResolutionNotesLen = 4000

// Task is the aggregate that owns the work-item state machine, the two-mode
// assignment model (direct user vs department pool with claim), time logging
// and the checklist/activity child collections. A loaded instance is mutated
// by one caller at a time; concurrent writers are arbitrated by the storage
// layer's version token.
type Task struct {
	recorder

	TenantID  string
	ProjectID string
	ID        string

	Title       string
	Description string
	Priority    Priority
	Status      TaskStatus

	// Assignment slots. After a successful department claim both are
	// populated: the claiming user's department stays recorded alongside
	// the user.
	AssignedToUserID       string
	AssignedToDepartmentID string
	DepartmentName         string

	EstimatedHours *float64
	ActualHours    float64

	ResolutionNotes string
	BlockedReason   string
	BlockedAt       *time.Time

	DueAt       *time.Time
	CreatedBy   string
	CompletedBy string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	Checklist []ChecklistItem
	Activity  []ActivityEntry

	// Version is the optimistic-concurrency token maintained by the
	// persistence adapter.
	Version int64
}

// TaskInput carries the caller-supplied fields for a new task.
type TaskInput struct {
	TenantID       string
	ProjectID      string
	ID             string
	Title          string
	Description    string
	Priority       Priority
	EstimatedHours *float64
	DueAt          *time.Time
	CreatedBy      string
}

// NewTask validates input and constructs a not-started task.
func NewTask(in TaskInput, now time.Time) (Task, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)

	if in.TenantID == "" {
		return Task{}, validationErr("tenant_id", "must not be empty")
	}
	if in.ProjectID == "" {
		return Task{}, ErrInvalidID
	}
	if in.ID == "" {
		return Task{}, ErrInvalidID
	}
	if in.Title == "" {
		return Task{}, ErrInvalidTitle
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !slices.Contains(validPriorities, in.Priority) {
		return Task{}, validationErr("priority", "unknown priority")
	}
	if in.EstimatedHours != nil && *in.EstimatedHours <= 0 {
		return Task{}, validationErr("estimated_hours", "must be greater than zero")
	}

	ts := now.UTC()
	t := Task{
		TenantID:       in.TenantID,
		ProjectID:      in.ProjectID,
		ID:             in.ID,
		Title:          in.Title,
		Description:    in.Description,
		Priority:       in.Priority,
		Status:         TaskStatusNotStarted,
		EstimatedHours: in.EstimatedHours,
		DueAt:          normalizeDueAt(in.DueAt),
		CreatedBy:      in.CreatedBy,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	t.recordTransition(EventTaskCreated, in.CreatedBy, ts, nil)
	return t, nil
}

// AssignToUser sets the direct-assignment slot. The department id slot is
// preserved as provenance, while the department name is replaced with
// whatever the caller supplied, including the empty string. Downstream
// consumers rely on this exact behavior; do not "fix" the asymmetry.
func (t *Task) AssignToUser(userID, departmentName string, now time.Time) error {
	userID = strings.TrimSpace(userID)
	if t.Status.IsTerminal() {
		return transitionErr("assign", string(t.Status))
	}
	if userID == "" {
		return validationErr("user_id", "must not be empty")
	}
	ts := now.UTC()
	t.AssignedToUserID = userID
	t.DepartmentName = strings.TrimSpace(departmentName)
	t.UpdatedAt = ts
	t.recordTransition(EventTaskAssigned, userID, ts, map[string]string{
		"assigned_to_user_id": userID,
	})
	return nil
}

// AssignToDepartment places the task into a department pool. Any previous
// direct assignment is cleared: the task is unclaimed again.
func (t *Task) AssignToDepartment(departmentID, departmentName string, now time.Time) error {
	departmentID = strings.TrimSpace(departmentID)
	if t.Status.IsTerminal() {
		return transitionErr("assign", string(t.Status))
	}
	if departmentID == "" {
		return validationErr("department_id", "must not be empty")
	}
	ts := now.UTC()
	t.AssignedToDepartmentID = departmentID
	t.DepartmentName = strings.TrimSpace(departmentName)
	t.AssignedToUserID = ""
	t.UpdatedAt = ts
	t.recordTransition(EventTaskPoolAssigned, "", ts, map[string]string{
		"assigned_to_department_id": departmentID,
	})
	return nil
}

// Claim lets a user take an unclaimed task outright.
func (t *Task) Claim(userID string, now time.Time) error {
	userID = strings.TrimSpace(userID)
	if t.Status.IsTerminal() {
		return transitionErr("claim", string(t.Status))
	}
	if userID == "" {
		return validationErr("user_id", "must not be empty")
	}
	if t.AssignedToUserID != "" {
		return ErrAlreadyClaimed
	}
	ts := now.UTC()
	t.AssignedToUserID = userID
	t.UpdatedAt = ts
	t.recordTransition(EventTaskClaimed, userID, ts, map[string]string{
		"assigned_to_user_id": userID,
	})
	return nil
}

// ClaimForDepartment lets a user claim a department-pool task by also naming
// their department, which must match the task's department slot. The claim
// fails before any mutation when the task is not department-assigned, the
// department differs, or another user already holds the task.
func (t *Task) ClaimForDepartment(userID, departmentID string, now time.Time) error {
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if t.Status.IsTerminal() {
		return transitionErr("claim", string(t.Status))
	}
	if userID == "" {
		return validationErr("user_id", "must not be empty")
	}
	if departmentID == "" {
		return validationErr("department_id", "must not be empty")
	}
	if t.AssignedToUserID != "" {
		return ErrAlreadyClaimed
	}
	if t.AssignedToDepartmentID == "" {
		return ErrNotDepartmentAssigned
	}
	if t.AssignedToDepartmentID != departmentID {
		return ErrDepartmentMismatch
	}
	ts := now.UTC()
	t.AssignedToUserID = userID
	t.UpdatedAt = ts
	t.recordTransition(EventTaskClaimed, userID, ts, map[string]string{
		"assigned_to_user_id":       userID,
		"assigned_to_department_id": departmentID,
	})
	return nil
}

// Start moves the task into progress. Starting work implies taking ownership
// when ownership was never explicit, so an unassigned task is auto-assigned
// to the starting user.
func (t *Task) Start(userID string, now time.Time) error {
	userID = strings.TrimSpace(userID)
	if !t.Status.CanStart() {
		return transitionErr("start", string(t.Status))
	}
	if userID == "" {
		return validationErr("user_id", "must not be empty")
	}
	ts := now.UTC()
	if t.AssignedToUserID == "" {
		t.AssignedToUserID = userID
	}
	t.Status = TaskStatusInProgress
	t.StartedAt = &ts
	t.UpdatedAt = ts
	t.recordTransition(EventTaskStarted, userID, ts, map[string]string{
		"assigned_to_user_id": t.AssignedToUserID,
	})
	return nil
}

// Block halts in-progress work, recording the reason and timestamp.
func (t *Task) Block(actorID, reason string, now time.Time) error {
	if !t.Status.CanBlock() {
		return transitionErr("block", string(t.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationErr("reason", "blocked reason must not be empty")
	}
	ts := now.UTC()
	t.Status = TaskStatusBlocked
	t.BlockedReason = reason
	t.BlockedAt = &ts
	t.UpdatedAt = ts
	t.recordTransition(EventTaskBlocked, actorID, ts, map[string]string{
		"reason": reason,
	})
	return nil
}

// Unblock resumes a blocked task, clearing the reason and timestamp
// symmetrically with Block.
func (t *Task) Unblock(actorID string, now time.Time) error {
	if !t.Status.CanUnblock() {
		return transitionErr("unblock", string(t.Status))
	}
	ts := now.UTC()
	t.Status = TaskStatusInProgress
	t.BlockedReason = ""
	t.BlockedAt = nil
	t.UpdatedAt = ts
	t.recordTransition(EventTaskUnblocked, actorID, ts, nil)
	return nil
}

// Complete finishes an in-progress task, stamping the completing actor and
// optionally folding in resolution notes through the same validation path as
// UpdateResolutionNotes.
func (t *Task) Complete(actorID, resolutionNotes string, now time.Time) error {
	actorID = strings.TrimSpace(actorID)
	if !t.Status.CanComplete() {
		return transitionErr("complete", string(t.Status))
	}
	if actorID == "" {
		return validationErr("actor_id", "must not be empty")
	}
	resolutionNotes = strings.TrimSpace(resolutionNotes)
	if resolutionNotes != "" {
		if err := validateResolutionNotes(resolutionNotes); err != nil {
			return err
		}
	}
	ts := now.UTC()
	if resolutionNotes != "" {
		t.ResolutionNotes = resolutionNotes
	}
	t.Status = TaskStatusCompleted
	t.CompletedBy = actorID
	t.CompletedAt = &ts
	t.UpdatedAt = ts
	t.recordTransition(EventTaskCompleted, actorID, ts, map[string]string{
		"actual_hours": formatHours(t.ActualHours),
	})
	return nil
}

// Cancel abandons the task with a mandatory reason for the audit trail.
func (t *Task) Cancel(actorID, reason string, now time.Time) error {
	if !t.Status.CanCancel() {
		return transitionErr("cancel", string(t.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return validationErr("reason", "cancel reason must not be empty")
	}
	ts := now.UTC()
	t.Status = TaskStatusCancelled
	t.CancelledAt = &ts
	t.UpdatedAt = ts
	t.recordTransition(EventTaskCancelled, actorID, ts, map[string]string{
		"reason": reason,
	})
	return nil
}

// LogTime accumulates a positive time entry into ActualHours. The emitted
// event carries both the delta and the new running total so downstream
// burn-rate consumers never need to re-query.
func (t *Task) LogTime(actorID string, hours float64, now time.Time) error {
	if !t.Status.CanLogTime() {
		return transitionErr("log time", string(t.Status))
	}
	if hours <= 0 {
		return validationErr("hours", "must be greater than zero")
	}
	ts := now.UTC()
	t.ActualHours += hours
	t.UpdatedAt = ts
	t.recordTransition(EventTaskTimeLogged, actorID, ts, map[string]string{
		"hours":       formatHours(hours),
		"total_hours": formatHours(t.ActualHours),
	})
	return nil
}

// UpdateResolutionNotes replaces the resolution notes. Complete reuses this
// validation path instead of duplicating the length check.
func (t *Task) UpdateResolutionNotes(notes string, now time.Time) error {
	notes = strings.TrimSpace(notes)
	if err := validateResolutionNotes(notes); err != nil {
		return err
	}
	t.ResolutionNotes = notes
	t.UpdatedAt = now.UTC()
	return nil
}

// UpdateEstimate revises the estimated effort for a non-terminal task.
func (t *Task) UpdateEstimate(hours float64, now time.Time) error {
	if t.Status.IsTerminal() {
		return transitionErr("update estimate", string(t.Status))
	}
	if hours <= 0 {
		return validationErr("estimated_hours", "must be greater than zero")
	}
	t.EstimatedHours = &hours
	t.UpdatedAt = now.UTC()
	return nil
}

// HoursVariance returns actual minus estimated hours. The second return is
// false when no estimate was ever recorded.
func (t *Task) HoursVariance() (float64, bool) {
	if t.EstimatedHours == nil {
		return 0, false
	}
	return t.ActualHours - *t.EstimatedHours, true
}

// AddChecklistItem appends a checklist item. Checklist mutation requires the
// task to be non-terminal.
func (t *Task) AddChecklistItem(id, description string, now time.Time) (ChecklistItem, error) {
	if t.Status.IsTerminal() {
		return ChecklistItem{}, transitionErr("add checklist item", string(t.Status))
	}
	item, err := newChecklistItem(id, t.ID, description, len(t.Checklist)+1, now)
	if err != nil {
		return ChecklistItem{}, err
	}
	t.Checklist = append(t.Checklist, item)
	t.UpdatedAt = now.UTC()
	t.recordTransition(EventTaskChecklistAdded, "", now.UTC(), map[string]string{
		"checklist_item_id": item.ID,
		"description":       item.Description,
	})
	return item, nil
}

// CompleteChecklistItem marks the identified item done.
func (t *Task) CompleteChecklistItem(itemID, userID string, now time.Time) error {
	item := t.findChecklistItem(itemID)
	if item == nil {
		return ErrChecklistItemNotFound
	}
	if err := item.complete(userID, now); err != nil {
		return err
	}
	ts := now.UTC()
	t.UpdatedAt = ts
	t.recordTransition(EventTaskChecklistCompleted, userID, ts, map[string]string{
		"checklist_item_id": item.ID,
	})
	return nil
}

// UncompleteChecklistItem reopens the identified item.
func (t *Task) UncompleteChecklistItem(itemID, actorID string, now time.Time) error {
	item := t.findChecklistItem(itemID)
	if item == nil {
		return ErrChecklistItemNotFound
	}
	if err := item.uncomplete(); err != nil {
		return err
	}
	ts := now.UTC()
	t.UpdatedAt = ts
	t.recordTransition(EventTaskChecklistReopened, actorID, ts, map[string]string{
		"checklist_item_id": item.ID,
	})
	return nil
}

// ToggleChecklistItem flips the completion state of the identified item. Two
// consecutive toggles return the item to its original state.
func (t *Task) ToggleChecklistItem(itemID, userID string, now time.Time) error {
	item := t.findChecklistItem(itemID)
	if item == nil {
		return ErrChecklistItemNotFound
	}
	if item.Completed {
		return t.UncompleteChecklistItem(itemID, userID, now)
	}
	return t.CompleteChecklistItem(itemID, userID, now)
}

// LogActivity appends an audit entry. The activity log is an audit trail, not
// a workflow gate, so entries may be appended regardless of status.
func (t *Task) LogActivity(id string, kind ActivityType, description, actorID string, detail map[string]string, now time.Time) (ActivityEntry, error) {
	entry, err := newActivityEntry(id, t.ID, kind, description, actorID, detail, now)
	if err != nil {
		return ActivityEntry{}, err
	}
	t.Activity = append(t.Activity, entry)
	t.UpdatedAt = now.UTC()
	t.recordTransition(EventTaskActivityLogged, actorID, now.UTC(), map[string]string{
		"activity_id":   entry.ID,
		"activity_type": string(entry.Type),
	})
	return entry, nil
}

// findChecklistItem returns a mutable pointer into the checklist collection.
func (t *Task) findChecklistItem(itemID string) *ChecklistItem {
	itemID = strings.TrimSpace(itemID)
	for i := range t.Checklist {
		if t.Checklist[i].ID == itemID {
			return &t.Checklist[i]
		}
	}
	return nil
}

// recordTransition appends a transition event carrying the task identity.
func (t *Task) recordTransition(name, actorID string, ts time.Time, payload map[string]string) {
	if payload == nil {
		payload = map[string]string{}
	}
	payload["title"] = t.Title
	payload["status"] = string(t.Status)
	payload["project_id"] = t.ProjectID
	t.record(Event{
		Name:          name,
		AggregateType: AggregateTypeTask,
		AggregateID:   t.ID,
		TenantID:      t.TenantID,
		ActorID:       strings.TrimSpace(actorID),
		Payload:       payload,
		OccurredAt:    ts,
	})
}

// validateResolutionNotes bounds resolution-notes length. Shared between
// Complete and UpdateResolutionNotes.
func validateResolutionNotes(notes string) error {
	if len(notes) > maxResolutionNotesLen {
		return validationErr("resolution_notes", "must be at most "+strconv.Itoa(maxResolutionNotesLen)+" characters")
	}
	return nil
}

// normalizeDueAt truncates to whole seconds in UTC for stable round-trips.
func normalizeDueAt(dueAt *time.Time) *time.Time {
	if dueAt == nil {
		return nil
	}
	ts := dueAt.UTC().Truncate(time.Second)
	return &ts
}

// formatHours renders fractional hours compactly for event payloads.
func formatHours(hours float64) string {
	return strconv.FormatFloat(hours, 'f', -1, 64)
}
