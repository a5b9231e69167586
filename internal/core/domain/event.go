package domain

import "time"

const (
	EventSourceAPI    = "API"
	EventSourceSystem = "SYSTEM"
)

type EventStatus string

const (
	EventPending     EventStatus = "PENDING"
	EventProcessed   EventStatus = "PROCESSED"
	EventFailed      EventStatus = "FAILED"
	EventCompensated EventStatus = "COMPENSATED"
	EventRolledBack  EventStatus = "ROLLED_BACK"
)

func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case EventPending, EventProcessed, EventFailed, EventCompensated, EventRolledBack:
		return st, nil
	}
	return "", NewValidationError("status", "invalid event status: "+s)
}

// MutationEvent is the audit record of one stock mutation attempt.
type MutationEvent struct {
	EventID       string
	ProductID     string
	StoreID       string
	Quantity      int
	MutationType  MutationType
	Source        string
	CorrelationID string
	Timestamp     time.Time
	Status        EventStatus
	ErrorDetails  *string
}

// IsCompensatable is true only for sales and purchases.
func (e MutationEvent) IsCompensatable() bool {
	return e.MutationType == MutationSale || e.MutationType == MutationPurchase
}

func (e MutationEvent) WithStatus(status EventStatus) MutationEvent {
	e.Status = status
	return e
}

// WithError marks the event FAILED with details.
func (e MutationEvent) WithError(details string) MutationEvent {
	e.Status = EventFailed
	e.ErrorDetails = &details
	return e
}
