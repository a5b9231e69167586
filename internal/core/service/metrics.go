package service

import (
	"time"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeExhausted   = "exhausted"
	OutcomeCancelled   = "cancelled"
	OutcomeStoreFailed = "store_error"
)

// Metrics receives engine and lifecycle observations.
type Metrics interface {
	MutationAttempt(op string)
	VersionConflict(op string)
	MutationCompleted(op, outcome string, elapsed time.Duration)
	ReservationTransition(status domain.ReservationStatus)
	EventSettled(status domain.EventStatus)
}

type nopMetrics struct{}

func (nopMetrics) MutationAttempt(string)                          {}
func (nopMetrics) VersionConflict(string)                          {}
func (nopMetrics) MutationCompleted(string, string, time.Duration) {}
func (nopMetrics) ReservationTransition(domain.ReservationStatus)  {}
func (nopMetrics) EventSettled(domain.EventStatus)                 {}
