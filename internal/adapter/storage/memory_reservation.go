package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

// MemoryReservationRepository keeps reservations in process memory.
type MemoryReservationRepository struct {
	mu   sync.RWMutex
	byID map[string]domain.Reservation
}

func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{byID: make(map[string]domain.Reservation)}
}

func (m *MemoryReservationRepository) Save(_ context.Context, r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[r.ReservationID]; ok {
		return errors.Wrapf(domain.ErrAlreadyExists, "reservation %s", r.ReservationID)
	}
	m.byID[r.ReservationID] = r
	return nil
}

func (m *MemoryReservationRepository) FindByID(_ context.Context, id string) (*domain.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryReservationRepository) UpdateStatus(_ context.Context, id string, expected, status domain.ReservationStatus) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byID[id]
	if !ok {
		return domain.Reservation{}, errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
	}
	if r.Status != expected || !expected.CanTransitionTo(status) {
		return domain.Reservation{}, &domain.InvalidStateTransitionError{ReservationID: id, From: r.Status, To: status}
	}
	r = r.WithStatus(status)
	m.byID[id] = r
	return r, nil
}

func (m *MemoryReservationRepository) FindExpired(_ context.Context, now time.Time) ([]domain.Reservation, error) {
	return m.collect(func(r domain.Reservation) bool {
		return !r.Status.IsTerminal() && r.ExpiresAt.Before(now)
	}), nil
}

func (m *MemoryReservationRepository) ExistsByID(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byID[id]
	return ok, nil
}

func (m *MemoryReservationRepository) List(_ context.Context) ([]domain.Reservation, error) {
	return m.collect(func(domain.Reservation) bool { return true }), nil
}

func (m *MemoryReservationRepository) collect(keep func(domain.Reservation) bool) []domain.Reservation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Reservation, 0, len(m.byID))
	for _, r := range m.byID {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.Reservation) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
