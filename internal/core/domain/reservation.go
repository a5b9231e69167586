package domain

import "time"

const (
	ReservationTTL      = 30 * time.Minute
	ReservationIDPrefix = "RES_"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationConfirmed || s == ReservationReleased || s == ReservationExpired
}

// CanTransitionTo encodes the forward-only paths of the lifecycle.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	switch s {
	case ReservationPending:
		return next == ReservationReserved || next == ReservationReleased || next == ReservationExpired
	case ReservationReserved:
		return next == ReservationConfirmed || next == ReservationReleased || next == ReservationExpired
	}
	return false
}

// Reservation is a temporary hold on stock. Closed reservations are kept for audit.
type Reservation struct {
	ReservationID string
	ProductID     string
	StoreID       string
	Quantity      int
	Status        ReservationStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	CorrelationID string
}

// NewReservation builds a PENDING reservation expiring ReservationTTL after now.
func NewReservation(id, productID, storeID string, qty int, correlationID string, now time.Time) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, NewValidationError("quantity", "quantity must be positive")
	}
	return Reservation{
		ReservationID: id,
		ProductID:     productID,
		StoreID:       storeID,
		Quantity:      qty,
		Status:        ReservationPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ReservationTTL),
		CorrelationID: correlationID,
	}, nil
}

func (r Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r Reservation) CanBeConfirmed(now time.Time) bool {
	return r.Status == ReservationReserved && !r.IsExpired(now)
}

func (r Reservation) CanBeReleased() bool {
	return r.Status == ReservationReserved || r.Status == ReservationPending
}

// IsValid is true for an unexpired hold that is still in RESERVED.
func (r Reservation) IsValid(now time.Time) bool {
	return r.CanBeConfirmed(now)
}

// HoldsStock reports whether reservedStock carries this reservation's quantity.
func (r Reservation) HoldsStock() bool {
	return r.Status == ReservationReserved
}

// WithStatus returns a copy moved to status. Callers check CanTransitionTo first.
func (r Reservation) WithStatus(status ReservationStatus) Reservation {
	r.Status = status
	return r
}
