package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/port"
)

// StockHolder is the part of StockService the reservation lifecycle drives.
type StockHolder interface {
	ReserveStock(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error)
	ReleaseReservedStock(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error)
	FulfillReservation(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error)
	RestoreFulfillment(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error)
}

const maxIDAttempts = 3

// ReservationService runs the reservation lifecycle on top of the stock engine.
// Status moves are compare-and-set in the store, so two callers racing on
// one reservation cannot both win. A caller that applied its stock effect and
// then lost the status move puts the effect back.
type ReservationService struct {
	store   port.ReservationRepository
	stock   StockHolder
	now     func() time.Time
	newID   func() string
	log     zerolog.Logger
	metrics Metrics
	tracer  trace.Tracer
}

func NewReservationService(store port.ReservationRepository, stock StockHolder, opts ...Option) *ReservationService {
	o := buildOptions(opts)
	return &ReservationService{
		store:   store,
		stock:   stock,
		now:     o.clock,
		newID:   o.newID,
		log:     o.logger.With().Str("component", "reservation_service").Logger(),
		metrics: o.metrics,
		tracer:  o.tracer,
	}
}

// CreateReservation persists a PENDING reservation, holds the stock and moves
// it to RESERVED. When the hold fails the PENDING record is left behind and
// the hold error is returned.
func (s *ReservationService) CreateReservation(ctx context.Context, productID, storeID string, qty int) (domain.Reservation, error) {
	if err := validateKey(productID, storeID); err != nil {
		return domain.Reservation{}, err
	}
	ctx, span := s.tracer.Start(ctx, "ReservationService.CreateReservation", trace.WithAttributes(
		attribute.String("product_id", productID),
		attribute.String("store_id", storeID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	id, err := s.nextID(ctx)
	if err != nil {
		return domain.Reservation{}, err
	}
	res, err := domain.NewReservation(id, productID, storeID, qty, CorrelationIDFromContext(ctx), s.now())
	if err != nil {
		return domain.Reservation{}, err
	}
	if err := s.store.Save(ctx, res); err != nil {
		return domain.Reservation{}, fmt.Errorf("save reservation: %w", err)
	}
	s.metrics.ReservationTransition(domain.ReservationPending)

	if _, err := s.stock.ReserveStock(ctx, productID, storeID, qty); err != nil {
		span.RecordError(err)
		s.log.Info().Err(err).Str("reservation_id", id).Msg("stock hold failed, reservation left pending")
		return domain.Reservation{}, err
	}

	reserved, err := s.store.UpdateStatus(ctx, id, domain.ReservationPending, domain.ReservationReserved)
	if err != nil {
		// the hold is already applied; give it back so it does not leak
		if _, rerr := s.stock.ReleaseReservedStock(context.WithoutCancel(ctx), productID, storeID, qty); rerr != nil {
			s.log.Error().Err(rerr).Str("reservation_id", id).Msg("failed to return hold after status update failure")
		}
		return domain.Reservation{}, fmt.Errorf("mark reservation %s reserved: %w", id, err)
	}
	s.metrics.ReservationTransition(domain.ReservationReserved)

	s.log.Info().
		Str("reservation_id", id).
		Str("product_id", productID).
		Str("store_id", storeID).
		Int("quantity", qty).
		Time("expires_at", reserved.ExpiresAt).
		Msg("reservation created")
	return reserved, nil
}

// ConfirmReservation turns the hold into a sale.
func (s *ReservationService) ConfirmReservation(ctx context.Context, id string) (domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.ConfirmReservation", trace.WithAttributes(attribute.String("reservation_id", id)))
	defer span.End()

	res, err := s.find(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !res.CanBeConfirmed(s.now()) {
		return domain.Reservation{}, &domain.InvalidStateTransitionError{
			ReservationID: id,
			From:          res.Status,
			To:            domain.ReservationConfirmed,
			Expired:       res.Status == domain.ReservationReserved && res.IsExpired(s.now()),
		}
	}

	sysCtx := WithEventSource(WithCorrelationID(ctx, res.CorrelationID), domain.EventSourceSystem)
	if _, err := s.stock.FulfillReservation(sysCtx, res.ProductID, res.StoreID, res.Quantity); err != nil {
		span.RecordError(err)
		return domain.Reservation{}, err
	}

	confirmed, err := s.store.UpdateStatus(ctx, id, domain.ReservationReserved, domain.ReservationConfirmed)
	if err != nil {
		if _, rerr := s.stock.RestoreFulfillment(context.WithoutCancel(sysCtx), res.ProductID, res.StoreID, res.Quantity); rerr != nil {
			s.log.Error().Err(rerr).Str("reservation_id", id).Msg("failed to restore hold after losing confirmation")
		}
		return domain.Reservation{}, fmt.Errorf("mark reservation %s confirmed: %w", id, err)
	}
	s.metrics.ReservationTransition(domain.ReservationConfirmed)
	s.log.Info().Str("reservation_id", id).Int("quantity", res.Quantity).Msg("reservation confirmed")
	return confirmed, nil
}

// ReleaseReservation gives back the hold of a PENDING or RESERVED reservation.
// A PENDING reservation holds nothing, so only its status changes.
func (s *ReservationService) ReleaseReservation(ctx context.Context, id string) (domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.ReleaseReservation", trace.WithAttributes(attribute.String("reservation_id", id)))
	defer span.End()

	res, err := s.find(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	released, err := s.close(ctx, res, domain.ReservationReleased)
	if err != nil {
		span.RecordError(err)
		return domain.Reservation{}, err
	}
	s.log.Info().Str("reservation_id", id).Str("from", string(res.Status)).Msg("reservation released")
	return released, nil
}

// ExpireDue moves every open reservation past its expiry to EXPIRED and
// releases what it held. Failures on single reservations do not stop the
// sweep; they are joined into the returned error.
func (s *ReservationService) ExpireDue(ctx context.Context) (int, error) {
	due, err := s.store.FindExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find expired reservations: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, res := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.close(ctx, res, domain.ReservationExpired); err != nil {
			if errors.Is(err, domain.ErrInvalidStateTransition) {
				// closed by someone else since the scan
				continue
			}
			errs = append(errs, fmt.Errorf("expire %s: %w", res.ReservationID, err))
			continue
		}
		expired++
	}

	if expired > 0 {
		s.log.Info().Int("expired", expired).Int("due", len(due)).Msg("expired reservations swept")
	}
	return expired, errors.Join(errs...)
}

func (s *ReservationService) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	return s.find(ctx, id)
}

func (s *ReservationService) ListReservations(ctx context.Context) ([]domain.Reservation, error) {
	return s.store.List(ctx)
}

// IsReservationValid is true for an existing, unexpired RESERVED reservation.
func (s *ReservationService) IsReservationValid(ctx context.Context, id string) (bool, error) {
	res, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("find reservation %s: %w", id, err)
	}
	return res != nil && res.IsValid(s.now()), nil
}

// nextID draws reservation ids until one is not taken.
func (s *ReservationService) nextID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := domain.ReservationIDPrefix + strings.ToUpper(s.newID())
		exists, err := s.store.ExistsByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check reservation id: %w", err)
		}
		if !exists {
			return id, nil
		}
		s.log.Warn().Str("reservation_id", id).Msg("reservation id taken, drawing another")
	}
	return "", fmt.Errorf("no free reservation id after %d attempts: %w", maxIDAttempts, domain.ErrAlreadyExists)
}

func (s *ReservationService) find(ctx context.Context, id string) (domain.Reservation, error) {
	res, err := s.store.FindByID(ctx, id)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("find reservation %s: %w", id, err)
	}
	if res == nil {
		return domain.Reservation{}, fmt.Errorf("reservation %s: %w", id, domain.ErrReservationNotFound)
	}
	return *res, nil
}

// close releases the held stock, then flips status from the observed one.
func (s *ReservationService) close(ctx context.Context, res domain.Reservation, to domain.ReservationStatus) (domain.Reservation, error) {
	if !res.Status.CanTransitionTo(to) {
		return domain.Reservation{}, &domain.InvalidStateTransitionError{ReservationID: res.ReservationID, From: res.Status, To: to}
	}

	sysCtx := WithEventSource(WithCorrelationID(ctx, res.CorrelationID), domain.EventSourceSystem)
	if res.HoldsStock() {
		if _, err := s.stock.ReleaseReservedStock(sysCtx, res.ProductID, res.StoreID, res.Quantity); err != nil {
			return domain.Reservation{}, err
		}
	}

	closed, err := s.store.UpdateStatus(ctx, res.ReservationID, res.Status, to)
	if err != nil {
		if res.HoldsStock() {
			if _, rerr := s.stock.ReserveStock(context.WithoutCancel(sysCtx), res.ProductID, res.StoreID, res.Quantity); rerr != nil {
				s.log.Error().Err(rerr).Str("reservation_id", res.ReservationID).Str("to", string(to)).
					Msg("failed to restore hold after losing status update")
			}
		}
		return domain.Reservation{}, err
	}
	s.metrics.ReservationTransition(to)
	return closed, nil
}
