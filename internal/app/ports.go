package app

import (
	"context"
	"time"

	"github.com/hylla/flode/internal/domain"
)

// Repository is the persistence port for both aggregates and the
// domain-event ledger. Update methods must reject stale versions with
// ErrConflict; lookups return ErrNotFound for missing rows.
type Repository interface {
	CreateChangeRequest(context.Context, domain.ChangeRequest) error
	UpdateChangeRequest(context.Context, domain.ChangeRequest) error
	GetChangeRequest(ctx context.Context, tenantID, id string) (domain.ChangeRequest, error)
	ListChangeRequestsByStatus(ctx context.Context, tenantID string, status domain.ChangeStatus) ([]domain.ChangeRequest, error)

	// Scheduler candidate queries. All bounds are compared against the
	// scheduling window fields, in UTC.
	ListChangeRequestsDueToStart(ctx context.Context, asOf time.Time) ([]domain.ChangeRequest, error)
	ListChangeRequestsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.ChangeRequest, error)
	ListOverdueChangeRequests(ctx context.Context, asOf time.Time) ([]domain.ChangeRequest, error)

	CreateTask(context.Context, domain.Task) error
	UpdateTask(context.Context, domain.Task) error
	GetTask(ctx context.Context, tenantID, id string) (domain.Task, error)
	ListTasksByProject(ctx context.Context, tenantID, projectID string) ([]domain.Task, error)

	AppendEvent(context.Context, domain.Event) error
	ListEvents(ctx context.Context, tenantID, aggregateID string, limit int) ([]domain.Event, error)
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time
