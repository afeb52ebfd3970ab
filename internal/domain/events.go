package domain

import "time"

// Event names emitted by the ChangeRequest aggregate.
const (
	EventChangeCreated       = "change_request.created"
	EventChangeSubmitted     = "change_request.submitted"
	EventChangeReviewStarted = "change_request.review_started"
	EventChangeApproved      = "change_request.approved"
	EventChangeDenied        = "change_request.denied"
	EventChangeScheduled     = "change_request.scheduled"
	EventChangeStarted       = "change_request.started"
	EventChangeCompleted     = "change_request.completed"
	EventChangeFailed        = "change_request.failed"
	EventChangeRolledBack    = "change_request.rolled_back"
	EventChangeCancelled     = "change_request.cancelled"
	EventChangeRiskUpdated   = "change_request.risk_updated"
	EventChangeReminderDue   = "change_request.reminder_due"
	EventChangeOverdue       = "change_request.overdue"
)

// Event names emitted by the Task aggregate.
const (
	EventTaskCreated            = "task.created"
	EventTaskAssigned           = "task.assigned"
	EventTaskPoolAssigned       = "task.pool_assigned"
	EventTaskClaimed            = "task.claimed"
	EventTaskStarted            = "task.started"
	EventTaskBlocked            = "task.blocked"
	EventTaskUnblocked          = "task.unblocked"
	EventTaskCompleted          = "task.completed"
	EventTaskCancelled          = "task.cancelled"
	EventTaskTimeLogged         = "task.time_logged"
	EventTaskChecklistAdded     = "task.checklist_item_added"
	EventTaskChecklistCompleted = "task.checklist_item_completed"
	EventTaskChecklistReopened  = "task.checklist_item_reopened"
	EventTaskActivityLogged     = "task.activity_logged"
)

// Aggregate type discriminators carried on every event.
const (
	AggregateTypeChangeRequest = "change_request"
	AggregateTypeTask          = "task"
)

// Event is a single domain fact recorded by an aggregate transition. Events
// are buffered on the aggregate and only published after the mutated
// aggregate has been durably persisted.
type Event struct {
	Name          string
	AggregateType string
	AggregateID   string
	TenantID      string
	ActorID       string
	Payload       map[string]string
	OccurredAt    time.Time
}

// recorder is the aggregate-local event buffer. Aggregates embed it so every
// transition can append exactly one event without invoking any handler
// directly. The buffer is single-writer: a loaded aggregate instance is never
// mutated concurrently.
type recorder struct {
	events []Event
}

// record appends one event to the buffer, normalising the timestamp to UTC.
func (r *recorder) record(e Event) {
	if e.Payload == nil {
		e.Payload = map[string]string{}
	}
	e.OccurredAt = e.OccurredAt.UTC()
	r.events = append(r.events, e)
}

// Events returns a copy of the buffered events in record order.
func (r *recorder) Events() []Event {
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ClearEvents empties the buffer. Callers invoke this only after every
// buffered event has been published.
func (r *recorder) ClearEvents() {
	r.events = nil
}
