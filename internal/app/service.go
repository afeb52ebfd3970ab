package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hylla/flode/internal/domain"
)

// Service coordinates aggregate loading, domain transitions, persistence,
// and event dispatch. Every operation saves before dispatching so handlers
// only see committed state.
type Service struct {
	repo       Repository
	dispatcher *Dispatcher
	idGen      IDGenerator
	clock      Clock
}

// NewService constructs a new value for this package.
func NewService(repo Repository, dispatcher *Dispatcher, idGen IDGenerator, clock Clock) *Service {
	if dispatcher == nil {
		dispatcher = NewDispatcher(nil)
	}
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, dispatcher: dispatcher, idGen: idGen, clock: clock}
}

// CreateChangeRequest validates and persists a new change request.
func (s *Service) CreateChangeRequest(ctx context.Context, in domain.ChangeRequestInput) (domain.ChangeRequest, error) {
	if in.ID == "" {
		in.ID = s.idGen()
	}
	cr, err := domain.NewChangeRequest(in, s.clock())
	if err != nil {
		return domain.ChangeRequest{}, err
	}
	if err := s.repo.CreateChangeRequest(ctx, cr); err != nil {
		return domain.ChangeRequest{}, err
	}
	s.dispatcher.Dispatch(ctx, &cr)
	return cr, nil
}

// GetChangeRequest loads a change request by tenant and id.
func (s *Service) GetChangeRequest(ctx context.Context, tenantID, id string) (domain.ChangeRequest, error) {
	return s.repo.GetChangeRequest(ctx, tenantID, id)
}

// ListChangeRequestsByStatus lists a tenant's change requests in one status.
func (s *Service) ListChangeRequestsByStatus(ctx context.Context, tenantID string, status domain.ChangeStatus) ([]domain.ChangeRequest, error) {
	return s.repo.ListChangeRequestsByStatus(ctx, tenantID, status)
}

// SubmitChange moves a draft into the submitted status.
func (s *Service) SubmitChange(ctx context.Context, tenantID, id, actorID string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.Submit(actorID, now)
	})
}

// StartChangeReview moves a submitted change under review.
func (s *Service) StartChangeReview(ctx context.Context, tenantID, id, reviewerID string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.StartReview(reviewerID, now)
	})
}

// ApproveChange approves a change under review.
func (s *Service) ApproveChange(ctx context.Context, tenantID, id, approverID, notes string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.Approve(approverID, notes, now)
	})
}

// DenyChange denies a change under review with a mandatory reason.
func (s *Service) DenyChange(ctx context.Context, tenantID, id, actorID, reason string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.Deny(actorID, reason, now)
	})
}

// ScheduleChange books an approved change into a maintenance window.
func (s *Service) ScheduleChange(ctx context.Context, tenantID, id string, start, end time.Time, window string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.Schedule(start, end, window, now)
	})
}

// StartChangeExecution begins execution of a scheduled change.
func (s *Service) StartChangeExecution(ctx context.Context, tenantID, id string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.StartExecution(now)
	})
}

// CompleteChange marks an in-progress change as completed.
func (s *Service) CompleteChange(ctx context.Context, tenantID, id, actorID string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.Complete(actorID, now)
	})
}

// FailChange marks an in-progress change as failed.
func (s *Service) FailChange(ctx context.Context, tenantID, id, actorID, reason string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.MarkAsFailed(actorID, reason, now)
	})
}

// RollbackChange rolls back a failed or in-progress change.
func (s *Service) RollbackChange(ctx context.Context, tenantID, id, actorID, reason string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.Rollback(actorID, reason, now)
	})
}

// CancelChange cancels a change that has not started executing.
func (s *Service) CancelChange(ctx context.Context, tenantID, id, actorID, reason string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.Cancel(actorID, reason, now)
	})
}

// UpdateChangeRisk reassesses risk and re-derives the approval requirement.
func (s *Service) UpdateChangeRisk(ctx context.Context, tenantID, id string, risk domain.RiskLevel, actorID string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.UpdateRiskLevel(risk, actorID, now)
	})
}

// UpdateChangeAssessment replaces the impact assessment and rollback plan.
func (s *Service) UpdateChangeAssessment(ctx context.Context, tenantID, id, impact, rollbackPlan string) (domain.ChangeRequest, error) {
	return s.mutateChange(ctx, tenantID, id, func(cr *domain.ChangeRequest, now time.Time) error {
		return cr.UpdateAssessment(impact, rollbackPlan, now)
	})
}

// CreateTask validates and persists a new task.
func (s *Service) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if in.ID == "" {
		in.ID = s.idGen()
	}
	t, err := domain.NewTask(in, s.clock())
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.repo.CreateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	s.dispatcher.Dispatch(ctx, &t)
	return t, nil
}

// GetTask loads a task by tenant and id.
func (s *Service) GetTask(ctx context.Context, tenantID, id string) (domain.Task, error) {
	return s.repo.GetTask(ctx, tenantID, id)
}

// ListTasksByProject lists a tenant's tasks within one project.
func (s *Service) ListTasksByProject(ctx context.Context, tenantID, projectID string) ([]domain.Task, error) {
	return s.repo.ListTasksByProject(ctx, tenantID, projectID)
}

// AssignTaskToUser assigns a task directly to a user.
func (s *Service) AssignTaskToUser(ctx context.Context, tenantID, id, userID, departmentName string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.AssignToUser(userID, departmentName, now)
	})
}

// AssignTaskToDepartment places a task into a department pool.
func (s *Service) AssignTaskToDepartment(ctx context.Context, tenantID, id, departmentID, departmentName string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.AssignToDepartment(departmentID, departmentName, now)
	})
}

// ClaimTask lets a user claim an unassigned task.
func (s *Service) ClaimTask(ctx context.Context, tenantID, id, userID string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.Claim(userID, now)
	})
}

// ClaimTaskForDepartment lets a department member claim a pooled task.
func (s *Service) ClaimTaskForDepartment(ctx context.Context, tenantID, id, userID, departmentID string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.ClaimForDepartment(userID, departmentID, now)
	})
}

// StartTask begins work on a task, claiming it for the actor if unassigned.
func (s *Service) StartTask(ctx context.Context, tenantID, id, userID string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.Start(userID, now)
	})
}

// BlockTask marks an in-progress task as blocked.
func (s *Service) BlockTask(ctx context.Context, tenantID, id, actorID, reason string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.Block(actorID, reason, now)
	})
}

// UnblockTask returns a blocked task to in progress.
func (s *Service) UnblockTask(ctx context.Context, tenantID, id, actorID string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.Unblock(actorID, now)
	})
}

// CompleteTask finishes a task, optionally recording resolution notes.
func (s *Service) CompleteTask(ctx context.Context, tenantID, id, actorID, resolutionNotes string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.Complete(actorID, resolutionNotes, now)
	})
}

// CancelTask cancels a task with a mandatory reason.
func (s *Service) CancelTask(ctx context.Context, tenantID, id, actorID, reason string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.Cancel(actorID, reason, now)
	})
}

// LogTaskTime adds worked hours to a task.
func (s *Service) LogTaskTime(ctx context.Context, tenantID, id, actorID string, hours float64) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.LogTime(actorID, hours, now)
	})
}

// UpdateTaskResolutionNotes replaces the resolution notes.
func (s *Service) UpdateTaskResolutionNotes(ctx context.Context, tenantID, id, notes string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.UpdateResolutionNotes(notes, now)
	})
}

// UpdateTaskEstimate replaces the estimated hours.
func (s *Service) UpdateTaskEstimate(ctx context.Context, tenantID, id string, hours float64) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.UpdateEstimate(hours, now)
	})
}

// AddChecklistItem appends a checklist item to a task.
func (s *Service) AddChecklistItem(ctx context.Context, tenantID, id, description string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		_, err := t.AddChecklistItem(s.idGen(), description, now)
		return err
	})
}

// CompleteChecklistItem marks a checklist item as done.
func (s *Service) CompleteChecklistItem(ctx context.Context, tenantID, id, itemID, actorID string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.CompleteChecklistItem(itemID, actorID, now)
	})
}

// UncompleteChecklistItem reopens a completed checklist item.
func (s *Service) UncompleteChecklistItem(ctx context.Context, tenantID, id, itemID, actorID string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.UncompleteChecklistItem(itemID, actorID, now)
	})
}

// ToggleChecklistItem flips a checklist item's completion state.
func (s *Service) ToggleChecklistItem(ctx context.Context, tenantID, id, itemID, actorID string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		return t.ToggleChecklistItem(itemID, actorID, now)
	})
}

// LogTaskActivity appends a free-form activity entry to a task.
func (s *Service) LogTaskActivity(ctx context.Context, tenantID, id string, kind domain.ActivityType, description, actorID string, detail map[string]string) (domain.Task, error) {
	return s.mutateTask(ctx, tenantID, id, func(t *domain.Task, now time.Time) error {
		_, err := t.LogActivity(s.idGen(), kind, description, actorID, detail, now)
		return err
	})
}

// AggregateTimeline returns the persisted event ledger for one aggregate,
// most recent first.
func (s *Service) AggregateTimeline(ctx context.Context, tenantID, aggregateID string, limit int) ([]domain.Event, error) {
	return s.repo.ListEvents(ctx, tenantID, aggregateID, limit)
}

func (s *Service) mutateChange(ctx context.Context, tenantID, id string, fn func(*domain.ChangeRequest, time.Time) error) (domain.ChangeRequest, error) {
	cr, err := s.repo.GetChangeRequest(ctx, tenantID, id)
	if err != nil {
		return domain.ChangeRequest{}, err
	}
	if err := fn(&cr, s.clock()); err != nil {
		return domain.ChangeRequest{}, err
	}
	if err := s.repo.UpdateChangeRequest(ctx, cr); err != nil {
		return domain.ChangeRequest{}, err
	}
	s.dispatcher.Dispatch(ctx, &cr)
	return cr, nil
}

func (s *Service) mutateTask(ctx context.Context, tenantID, id string, fn func(*domain.Task, time.Time) error) (domain.Task, error) {
	t, err := s.repo.GetTask(ctx, tenantID, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := fn(&t, s.clock()); err != nil {
		return domain.Task{}, err
	}
	if err := s.repo.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	s.dispatcher.Dispatch(ctx, &t)
	return t, nil
}
