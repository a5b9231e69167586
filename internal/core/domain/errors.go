package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrConcurrentUpdate       = errors.New("concurrent update detected")
	ErrVersionConflict        = errors.New("version conflict")
	ErrStockNotFound          = errors.New("stock record not found")
	ErrAlreadyExists          = errors.New("inventory item already exists")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrReservationExpired     = errors.New("reservation expired")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrEventNotFound          = errors.New("event not found")
	ErrEventStatusMismatch    = errors.New("event status changed")
	ErrNotCompensatable       = errors.New("event cannot be compensated")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// VersionConflictError is returned by stores when a conditional save loses
// the race. Actual is -1 when the store could not observe the current version.
type VersionConflictError struct {
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, actual %d", e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// ConcurrentUpdateError reports that the retry budget ran out under contention.
type ConcurrentUpdateError struct {
	ProductID       string
	StoreID         string
	ExpectedVersion int64
	ActualVersion   int64
	Attempts        int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("concurrent update on product %s store %s after %d attempts: expected version %d, actual %d",
		e.ProductID, e.StoreID, e.Attempts, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConcurrentUpdateError) Is(target error) bool { return target == ErrConcurrentUpdate }

// InvalidStateTransitionError is returned when a reservation is not eligible
// for the requested transition. Expired marks a confirmation refused because
// the hold timed out; such errors also match ErrReservationExpired.
type InvalidStateTransitionError struct {
	ReservationID string
	From          ReservationStatus
	To            ReservationStatus
	Expired       bool
}

func (e *InvalidStateTransitionError) Error() string {
	if e.Expired {
		return fmt.Sprintf("cannot move reservation %s to %s: reservation expired", e.ReservationID, e.To)
	}
	return fmt.Sprintf("cannot move reservation %s from %s to %s", e.ReservationID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition || (e.Expired && target == ErrReservationExpired)
}

func overReleaseReason(reserved, requested int) string {
	return fmt.Sprintf("cannot release more than reserved: reserved %d, requested %d", reserved, requested)
}

func exceedsMaximumReason(maxLevel, attempted int) string {
	return fmt.Sprintf("stock exceeds maximum level: max %d, attempted %d", maxLevel, attempted)
}
