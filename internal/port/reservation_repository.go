package port

import (
	"context"
	"time"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type ReservationRepository interface {
	// Save persists a new reservation
	Save(ctx context.Context, reservation domain.Reservation) error

	// FindByID returns the reservation, or nil when none exists
	FindByID(ctx context.Context, id string) (*domain.Reservation, error)

	// UpdateStatus moves a reservation from expected to status atomically.
	// A mismatch on expected returns a *domain.InvalidStateTransitionError.
	UpdateStatus(ctx context.Context, id string, expected, status domain.ReservationStatus) (domain.Reservation, error)

	// FindExpired returns open (PENDING or RESERVED) reservations with expiresAt before now
	FindExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error)

	// ExistsByID reports whether a reservation exists
	ExistsByID(ctx context.Context, id string) (bool, error)

	// List returns all reservations ordered by creation time
	List(ctx context.Context) ([]domain.Reservation, error)
}
