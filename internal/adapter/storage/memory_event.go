package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

// MemoryEventRepository keeps the mutation-event log in process memory.
type MemoryEventRepository struct {
	mu   sync.RWMutex
	byID map[string]domain.MutationEvent
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{byID: make(map[string]domain.MutationEvent)}
}

func (m *MemoryEventRepository) Save(_ context.Context, e domain.MutationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[e.EventID]; ok {
		return errors.Wrapf(domain.ErrAlreadyExists, "event %s", e.EventID)
	}
	m.byID[e.EventID] = cloneEvent(e)
	return nil
}

func (m *MemoryEventRepository) FindByID(_ context.Context, id string) (*domain.MutationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	e = cloneEvent(e)
	return &e, nil
}

func (m *MemoryEventRepository) FindByStatus(_ context.Context, status domain.EventStatus) ([]domain.MutationEvent, error) {
	return m.collect(func(e domain.MutationEvent) bool { return e.Status == status }), nil
}

func (m *MemoryEventRepository) FindByCorrelationID(_ context.Context, correlationID string) ([]domain.MutationEvent, error) {
	return m.collect(func(e domain.MutationEvent) bool { return e.CorrelationID == correlationID }), nil
}

func (m *MemoryEventRepository) List(_ context.Context) ([]domain.MutationEvent, error) {
	return m.collect(func(domain.MutationEvent) bool { return true }), nil
}

func (m *MemoryEventRepository) UpdateStatus(_ context.Context, id string, status domain.EventStatus, errorDetails *string) (domain.MutationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return domain.MutationEvent{}, errors.Wrapf(domain.ErrEventNotFound, "event %s", id)
	}
	return m.set(e, status, errorDetails), nil
}

func (m *MemoryEventRepository) CompareAndUpdateStatus(_ context.Context, id string, expected, status domain.EventStatus, errorDetails *string) (domain.MutationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return domain.MutationEvent{}, errors.Wrapf(domain.ErrEventNotFound, "event %s", id)
	}
	if e.Status != expected {
		return domain.MutationEvent{}, errors.Wrapf(domain.ErrEventStatusMismatch, "event %s is %s", id, e.Status)
	}
	return m.set(e, status, errorDetails), nil
}

func (m *MemoryEventRepository) set(e domain.MutationEvent, status domain.EventStatus, errorDetails *string) domain.MutationEvent {
	e = e.WithStatus(status)
	if errorDetails != nil {
		details := *errorDetails
		e.ErrorDetails = &details
	}
	m.byID[e.EventID] = e
	return cloneEvent(e)
}

func (m *MemoryEventRepository) collect(keep func(domain.MutationEvent) bool) []domain.MutationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.MutationEvent, 0, len(m.byID))
	for _, e := range m.byID {
		if keep(e) {
			out = append(out, cloneEvent(e))
		}
	}
	slices.SortFunc(out, func(a, b domain.MutationEvent) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

func cloneEvent(e domain.MutationEvent) domain.MutationEvent {
	if e.ErrorDetails != nil {
		details := *e.ErrorDetails
		e.ErrorDetails = &details
	}
	return e
}
