package domain

import (
	"slices"
	"strings"
	"time"
)

// ActivityType classifies activity-log entries on a task.
type ActivityType string

// ActivityType values.
const (
	ActivityTypeStatusChange ActivityType = "status_change"
	ActivityTypeAssignment   ActivityType = "assignment"
	ActivityTypeTimeLogged   ActivityType = "time_logged"
	ActivityTypeChecklist    ActivityType = "checklist"
	ActivityTypeComment      ActivityType = "comment"
	ActivityTypeSystem       ActivityType = "system"
)

var validActivityTypes = []ActivityType{
	ActivityTypeStatusChange,
	ActivityTypeAssignment,
	ActivityTypeTimeLogged,
	ActivityTypeChecklist,
	ActivityTypeComment,
	ActivityTypeSystem,
}

// ActivityEntry is an append-only audit record owned by a Task. Entries are
// never mutated or deleted once created.
type ActivityEntry struct {
	ID          string
	TaskID      string
	Type        ActivityType
	Description string
	ActorID     string
	Detail      map[string]string
	OccurredAt  time.Time
}

// newActivityEntry validates and builds an activity entry.
func newActivityEntry(id, taskID string, kind ActivityType, description, actorID string, detail map[string]string, now time.Time) (ActivityEntry, error) {
	id = strings.TrimSpace(id)
	description = strings.TrimSpace(description)
	if id == "" {
		return ActivityEntry{}, ErrInvalidID
	}
	if kind == "" {
		kind = ActivityTypeSystem
	}
	if !slices.Contains(validActivityTypes, kind) {
		return ActivityEntry{}, validationErr("activity_type", "unknown activity type")
	}
	if description == "" {
		return ActivityEntry{}, validationErr("description", "must not be empty")
	}
	if detail == nil {
		detail = map[string]string{}
	}
	return ActivityEntry{
		ID:          id,
		TaskID:      taskID,
		Type:        kind,
		Description: description,
		ActorID:     strings.TrimSpace(actorID),
		Detail:      detail,
		OccurredAt:  now.UTC(),
	}, nil
}
