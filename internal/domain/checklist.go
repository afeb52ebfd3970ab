package domain

import (
	"strings"
	"time"
)

// ChecklistItem is a child record owned exclusively by a Task. It is
// immutable once created except for the completion toggle.
type ChecklistItem struct {
	ID          string
	TaskID      string
	Description string
	Position    int
	Completed   bool
	CompletedBy string
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// newChecklistItem validates and builds a checklist item for a task.
func newChecklistItem(id, taskID, description string, position int, now time.Time) (ChecklistItem, error) {
	id = strings.TrimSpace(id)
	description = strings.TrimSpace(description)
	if id == "" {
		return ChecklistItem{}, ErrInvalidID
	}
	if description == "" {
		return ChecklistItem{}, validationErr("description", "must not be empty")
	}
	return ChecklistItem{
		ID:          id,
		TaskID:      taskID,
		Description: description,
		Position:    position,
		CreatedAt:   now.UTC(),
	}, nil
}

// complete marks the item done. Completing an already-completed item is an
// error, not a silent no-op.
func (i *ChecklistItem) complete(userID string, now time.Time) error {
	if i.Completed {
		return ErrChecklistItemCompleted
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return validationErr("user_id", "must not be empty")
	}
	ts := now.UTC()
	i.Completed = true
	i.CompletedBy = userID
	i.CompletedAt = &ts
	return nil
}

// uncomplete reopens the item. Reopening an item that was never completed is
// an error, not a silent no-op.
func (i *ChecklistItem) uncomplete() error {
	if !i.Completed {
		return ErrChecklistItemIncomplete
	}
	i.Completed = false
	i.CompletedBy = ""
	i.CompletedAt = nil
	return nil
}
