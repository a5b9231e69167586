package port

import (
	"context"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type EventRepository interface {
	// Save appends an event keyed by its id
	Save(ctx context.Context, event domain.MutationEvent) error

	// FindByID returns the event, or nil when none exists
	FindByID(ctx context.Context, id string) (*domain.MutationEvent, error)

	// FindByStatus returns events currently in status
	FindByStatus(ctx context.Context, status domain.EventStatus) ([]domain.MutationEvent, error)

	// FindByCorrelationID returns the events triggered by one external request
	FindByCorrelationID(ctx context.Context, correlationID string) ([]domain.MutationEvent, error)

	// List returns all events ordered by timestamp
	List(ctx context.Context) ([]domain.MutationEvent, error)

	// UpdateStatus sets status and, when non-nil, errorDetails
	UpdateStatus(ctx context.Context, id string, status domain.EventStatus, errorDetails *string) (domain.MutationEvent, error)

	// CompareAndUpdateStatus is UpdateStatus guarded on the current status.
	// It returns domain.ErrEventNotFound when absent and domain.ErrEventStatusMismatch
	// when the stored status is not expected.
	CompareAndUpdateStatus(ctx context.Context, id string, expected, status domain.EventStatus, errorDetails *string) (domain.MutationEvent, error)
}

type EventPublisher interface {
	// Publish emits a settled mutation event to downstream consumers
	Publish(ctx context.Context, event domain.MutationEvent) error
}
