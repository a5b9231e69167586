package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/port"
)

// EventService owns the mutation-event log. It satisfies EventRecorder.
type EventService struct {
	store     port.EventRepository
	publisher port.EventPublisher
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger
	metrics   Metrics
}

func NewEventService(store port.EventRepository, opts ...Option) *EventService {
	o := buildOptions(opts)
	return &EventService{
		store:     store,
		publisher: o.publisher,
		now:       o.clock,
		newID:     o.newID,
		log:       o.logger.With().Str("component", "event_service").Logger(),
		metrics:   o.metrics,
	}
}

// Record stores a new event. Id, timestamp and status are filled in when unset.
func (s *EventService) Record(ctx context.Context, event domain.MutationEvent) (domain.MutationEvent, error) {
	if event.EventID == "" {
		event.EventID = s.newID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.Status == "" {
		event.Status = domain.EventPending
	}
	if event.Source == "" {
		event.Source = domain.EventSourceAPI
	}
	if err := s.store.Save(ctx, event); err != nil {
		return domain.MutationEvent{}, fmt.Errorf("save event: %w", err)
	}
	return event, nil
}

// Settle marks an event PROCESSED, or FAILED with the error text, and
// publishes the result when a publisher is configured.
func (s *EventService) Settle(ctx context.Context, eventID string, mutationErr error) (domain.MutationEvent, error) {
	status := domain.EventProcessed
	var details *string
	if mutationErr != nil {
		status = domain.EventFailed
		msg := mutationErr.Error()
		details = &msg
	}

	event, err := s.store.UpdateStatus(ctx, eventID, status, details)
	if err != nil {
		return domain.MutationEvent{}, fmt.Errorf("settle event %s: %w", eventID, err)
	}
	s.metrics.EventSettled(status)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("event_id", eventID).Msg("failed to publish mutation event")
		}
	}
	return event, nil
}

// CompensateEvent marks a processed sale or purchase as compensated. It is a
// one-shot marker; stock is not touched.
func (s *EventService) CompensateEvent(ctx context.Context, eventID, reason string) (domain.MutationEvent, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.MutationEvent{}, domain.NewValidationError("reason", "compensation reason is required")
	}

	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return domain.MutationEvent{}, err
	}
	if !event.IsCompensatable() {
		return domain.MutationEvent{}, fmt.Errorf("event %s of type %s: %w", eventID, event.MutationType, domain.ErrNotCompensatable)
	}
	if event.Status != domain.EventProcessed {
		return domain.MutationEvent{}, fmt.Errorf("event %s in status %s: %w", eventID, event.Status, domain.ErrNotCompensatable)
	}

	compensated, err := s.store.CompareAndUpdateStatus(ctx, eventID, domain.EventProcessed, domain.EventCompensated, &reason)
	switch {
	case errors.Is(err, domain.ErrEventStatusMismatch):
		return domain.MutationEvent{}, fmt.Errorf("event %s already settled: %w", eventID, domain.ErrNotCompensatable)
	case errors.Is(err, domain.ErrEventNotFound):
		return domain.MutationEvent{}, fmt.Errorf("event %s: %w", eventID, domain.ErrEventNotFound)
	case err != nil:
		return domain.MutationEvent{}, fmt.Errorf("compensate event %s: %w", eventID, err)
	}

	s.metrics.EventSettled(domain.EventCompensated)
	s.log.Info().Str("event_id", eventID).Str("reason", reason).Msg("event compensated")
	return compensated, nil
}

func (s *EventService) GetEvent(ctx context.Context, eventID string) (domain.MutationEvent, error) {
	event, err := s.store.FindByID(ctx, eventID)
	if err != nil {
		return domain.MutationEvent{}, fmt.Errorf("find event %s: %w", eventID, err)
	}
	if event == nil {
		return domain.MutationEvent{}, fmt.Errorf("event %s: %w", eventID, domain.ErrEventNotFound)
	}
	return *event, nil
}

func (s *EventService) ListEvents(ctx context.Context) ([]domain.MutationEvent, error) {
	return s.store.List(ctx)
}

func (s *EventService) ListEventsByStatus(ctx context.Context, status domain.EventStatus) ([]domain.MutationEvent, error) {
	return s.store.FindByStatus(ctx, status)
}

func (s *EventService) ListEventsByCorrelationID(ctx context.Context, correlationID string) ([]domain.MutationEvent, error) {
	return s.store.FindByCorrelationID(ctx, correlationID)
}
