package domain

import "slices"

// ChangeStatus represents the lifecycle state of a change request.
type ChangeStatus string

// Change request lifecycle states.
const (
	ChangeStatusDraft       ChangeStatus = "draft"
	ChangeStatusSubmitted   ChangeStatus = "submitted"
	ChangeStatusUnderReview ChangeStatus = "under_review"
	ChangeStatusApproved    ChangeStatus = "approved"
	ChangeStatusDenied      ChangeStatus = "denied"
	ChangeStatusScheduled   ChangeStatus = "scheduled"
	ChangeStatusInProgress  ChangeStatus = "in_progress"
	ChangeStatusCompleted   ChangeStatus = "completed"
	ChangeStatusFailed      ChangeStatus = "failed"
	ChangeStatusRolledBack  ChangeStatus = "rolled_back"
	ChangeStatusCancelled   ChangeStatus = "cancelled"
)

var validChangeStatuses = []ChangeStatus{
	ChangeStatusDraft,
	ChangeStatusSubmitted,
	ChangeStatusUnderReview,
	ChangeStatusApproved,
	ChangeStatusDenied,
	ChangeStatusScheduled,
	ChangeStatusInProgress,
	ChangeStatusCompleted,
	ChangeStatusFailed,
	ChangeStatusRolledBack,
	ChangeStatusCancelled,
}

// IsValidChangeStatus reports whether the status is a canonical value.
func IsValidChangeStatus(s ChangeStatus) bool {
	return slices.Contains(validChangeStatuses, s)
}

// CanSubmit reports whether Submit is legal from this status.
func (s ChangeStatus) CanSubmit() bool { return s == ChangeStatusDraft }

// CanStartReview reports whether StartReview is legal from this status.
func (s ChangeStatus) CanStartReview() bool { return s == ChangeStatusSubmitted }

// CanApprove reports whether Approve is legal from this status.
func (s ChangeStatus) CanApprove() bool { return s == ChangeStatusUnderReview }

// CanDeny reports whether Deny is legal from this status.
func (s ChangeStatus) CanDeny() bool { return s == ChangeStatusUnderReview }

// CanSchedule reports whether Schedule is legal from this status.
func (s ChangeStatus) CanSchedule() bool { return s == ChangeStatusApproved }

// CanStartExecution reports whether StartExecution is legal from this status.
func (s ChangeStatus) CanStartExecution() bool { return s == ChangeStatusScheduled }

// CanComplete reports whether Complete is legal from this status.
func (s ChangeStatus) CanComplete() bool { return s == ChangeStatusInProgress }

// CanFail reports whether MarkAsFailed is legal from this status.
func (s ChangeStatus) CanFail() bool { return s == ChangeStatusInProgress }

// CanRollback reports whether Rollback is legal from this status.
func (s ChangeStatus) CanRollback() bool {
	return s == ChangeStatusFailed || s == ChangeStatusInProgress
}

// CanCancel reports whether Cancel is legal from this status. Cancellation is
// blocked from every terminal state and from in-flight execution.
func (s ChangeStatus) CanCancel() bool {
	if s.IsTerminal() {
		return false
	}
	return s != ChangeStatusCompleted && s != ChangeStatusInProgress && s != ChangeStatusRolledBack
}

// CanUpdateRisk reports whether the risk level may still be revised.
func (s ChangeStatus) CanUpdateRisk() bool {
	return s == ChangeStatusDraft || s == ChangeStatusUnderReview
}

// IsTerminal reports whether the status admits no further transitions.
func (s ChangeStatus) IsTerminal() bool {
	switch s {
	case ChangeStatusCompleted, ChangeStatusRolledBack, ChangeStatusCancelled, ChangeStatusDenied:
		return true
	default:
		return false
	}
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task lifecycle states.
const (
	TaskStatusNotStarted TaskStatus = "not_started"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

var validTaskStatuses = []TaskStatus{
	TaskStatusNotStarted,
	TaskStatusInProgress,
	TaskStatusBlocked,
	TaskStatusCompleted,
	TaskStatusCancelled,
}

// IsValidTaskStatus reports whether the status is a canonical value.
func IsValidTaskStatus(s TaskStatus) bool {
	return slices.Contains(validTaskStatuses, s)
}

// CanStart reports whether Start is legal from this status.
func (s TaskStatus) CanStart() bool { return s == TaskStatusNotStarted }

// CanBlock reports whether Block is legal from this status.
func (s TaskStatus) CanBlock() bool { return s == TaskStatusInProgress }

// CanUnblock reports whether Unblock is legal from this status.
func (s TaskStatus) CanUnblock() bool { return s == TaskStatusBlocked }

// CanComplete reports whether Complete is legal from this status.
func (s TaskStatus) CanComplete() bool { return s == TaskStatusInProgress }

// CanCancel reports whether Cancel is legal from this status.
func (s TaskStatus) CanCancel() bool { return !s.IsTerminal() }

// CanLogTime reports whether time entries may be logged in this status.
func (s TaskStatus) CanLogTime() bool {
	return s == TaskStatusInProgress || s == TaskStatusBlocked
}

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// ChangeType classifies a change request for approval routing.
type ChangeType string

// ChangeType values.
const (
	ChangeTypeStandard  ChangeType = "standard"
	ChangeTypeNormal    ChangeType = "normal"
	ChangeTypeEmergency ChangeType = "emergency"
)

var validChangeTypes = []ChangeType{ChangeTypeStandard, ChangeTypeNormal, ChangeTypeEmergency}

// RiskLevel grades the blast radius of a change request.
type RiskLevel string

// RiskLevel values.
const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

var validRiskLevels = []RiskLevel{RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical}

// Priority ranks work items for ordering and SLA purposes.
type Priority string

// Priority values.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var validPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// cabApprovalRule is the CAB gating table keyed by (ChangeType, RiskLevel).
// Standard changes are pre-approved at every risk level; emergency changes
// skip CAB only when risk is low; everything else goes to the board.
var cabApprovalRule = map[ChangeType]map[RiskLevel]bool{
	ChangeTypeStandard: {
		RiskLevelLow:      false,
		RiskLevelMedium:   false,
		RiskLevelHigh:     false,
		RiskLevelCritical: false,
	},
	ChangeTypeNormal: {
		RiskLevelLow:      true,
		RiskLevelMedium:   true,
		RiskLevelHigh:     true,
		RiskLevelCritical: true,
	},
	ChangeTypeEmergency: {
		RiskLevelLow:      false,
		RiskLevelMedium:   true,
		RiskLevelHigh:     true,
		RiskLevelCritical: true,
	},
}

// RequiresCABApproval resolves the CAB gating table for a type/risk pair.
func RequiresCABApproval(changeType ChangeType, risk RiskLevel) bool {
	byRisk, ok := cabApprovalRule[changeType]
	if !ok {
		return true
	}
	required, ok := byRisk[risk]
	if !ok {
		return true
	}
	return required
}
