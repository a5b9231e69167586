package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/port"
)

// ComputeFunc derives the next state of a record from the one just read.
// An error aborts the mutation immediately; it is never retried.
type ComputeFunc func(current domain.StockRecord) (domain.StockRecord, error)

// EventRecorder keeps the mutation-event log in step with stock updates.
type EventRecorder interface {
	Record(ctx context.Context, event domain.MutationEvent) (domain.MutationEvent, error)
	Settle(ctx context.Context, eventID string, mutationErr error) (domain.MutationEvent, error)
}

// StockService is the only writer of stock records. Every write is a
// read-compute-conditional-save cycle retried on version conflicts.
type StockService struct {
	store         port.StockRepository
	events        EventRecorder
	retry         RetryPolicy
	autoCreateMax int
	createMin     int
	createMax     int
	now           func() time.Time
	newID         func() string
	log           zerolog.Logger
	metrics       Metrics
	tracer        trace.Tracer
}

func NewStockService(store port.StockRepository, opts ...Option) *StockService {
	o := buildOptions(opts)
	return &StockService{
		store:         store,
		events:        o.events,
		retry:         o.retry,
		autoCreateMax: o.autoCreateMax,
		createMin:     o.createMin,
		createMax:     o.createMax,
		now:           o.clock,
		newID:         o.newID,
		log:           o.logger.With().Str("component", "stock_service").Logger(),
		metrics:       o.metrics,
		tracer:        o.tracer,
	}
}

// Mutate applies compute to the current record of a key and persists the
// result with optimistic concurrency.
func (s *StockService) Mutate(ctx context.Context, productID, storeID string, compute ComputeFunc) (domain.StockRecord, error) {
	return s.mutate(ctx, "mutate", productID, storeID, compute)
}

func (s *StockService) UpdateStock(ctx context.Context, productID, storeID string, qty int, mutationType domain.MutationType) (domain.StockRecord, error) {
	if _, err := domain.ParseMutationType(string(mutationType)); err != nil {
		return domain.StockRecord{}, err
	}
	return s.mutateRecorded(ctx, "update_stock", productID, storeID, qty, mutationType, func(cur domain.StockRecord) (domain.StockRecord, error) {
		return cur.ApplyMutation(qty, mutationType, s.now())
	})
}

func (s *StockService) ReserveStock(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error) {
	if qty <= 0 {
		return domain.StockRecord{}, domain.NewValidationError("quantity", "quantity must be positive")
	}
	return s.mutate(ctx, "reserve_stock", productID, storeID, func(cur domain.StockRecord) (domain.StockRecord, error) {
		return cur.Reserve(qty, s.now())
	})
}

func (s *StockService) ReleaseReservedStock(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error) {
	if qty <= 0 {
		return domain.StockRecord{}, domain.NewValidationError("quantity", "quantity must be positive")
	}
	return s.mutate(ctx, "release_stock", productID, storeID, func(cur domain.StockRecord) (domain.StockRecord, error) {
		return cur.ReleaseReservation(qty, s.now())
	})
}

// FulfillReservation converts a hold into a sale and logs it as a SALE event.
func (s *StockService) FulfillReservation(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error) {
	if qty <= 0 {
		return domain.StockRecord{}, domain.NewValidationError("quantity", "quantity must be positive")
	}
	return s.mutateRecorded(ctx, "fulfill_reservation", productID, storeID, qty, domain.MutationSale, func(cur domain.StockRecord) (domain.StockRecord, error) {
		return cur.FulfillReservation(qty, s.now())
	})
}

// RestoreFulfillment undoes a FulfillReservation whose reservation could not
// be marked confirmed.
func (s *StockService) RestoreFulfillment(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error) {
	return s.mutate(ctx, "restore_fulfillment", productID, storeID, func(cur domain.StockRecord) (domain.StockRecord, error) {
		return cur.RestoreFulfillment(qty, s.now())
	})
}

// GetAvailableStock returns 0 for unknown keys.
func (s *StockService) GetAvailableStock(ctx context.Context, productID, storeID string) (int, error) {
	rec, err := s.store.Find(ctx, productID, storeID)
	if err != nil {
		return 0, fmt.Errorf("find stock: %w", err)
	}
	if rec == nil {
		return 0, nil
	}
	return rec.Available(), nil
}

func (s *StockService) CanFulfill(ctx context.Context, productID, storeID string, qty int) (bool, error) {
	rec, err := s.store.Find(ctx, productID, storeID)
	if err != nil {
		return false, fmt.Errorf("find stock: %w", err)
	}
	return rec != nil && rec.CanFulfill(qty), nil
}

// CreateStock registers a key with an initial stock and the default levels.
func (s *StockService) CreateStock(ctx context.Context, productID, storeID string, initialStock int) (domain.StockRecord, error) {
	if err := validateKey(productID, storeID); err != nil {
		return domain.StockRecord{}, err
	}
	if initialStock < 0 {
		return domain.StockRecord{}, domain.NewValidationError("initialStock", "must be zero or positive")
	}
	if initialStock > s.createMax {
		return domain.StockRecord{}, domain.NewValidationError("initialStock", fmt.Sprintf("exceeds maximum level %d", s.createMax))
	}

	rec := domain.NewStockRecord(productID, storeID, s.createMin, domain.IntPtr(s.createMax), s.now())
	rec.ID = s.newID()
	rec.CurrentStock = initialStock

	created, err := s.store.Create(ctx, rec)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.StockRecord{}, fmt.Errorf("product %s store %s: %w", productID, storeID, domain.ErrAlreadyExists)
		}
		return domain.StockRecord{}, fmt.Errorf("create stock: %w", err)
	}

	s.log.Info().
		Str("product_id", productID).
		Str("store_id", storeID).
		Int("initial_stock", initialStock).
		Msg("stock record created")
	return created, nil
}

func (s *StockService) GetStock(ctx context.Context, id string) (domain.StockRecord, error) {
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("find stock %s: %w", id, err)
	}
	if rec == nil {
		return domain.StockRecord{}, fmt.Errorf("stock %s: %w", id, domain.ErrStockNotFound)
	}
	return *rec, nil
}

func (s *StockService) GetStockByKey(ctx context.Context, productID, storeID string) (domain.StockRecord, error) {
	rec, err := s.store.Find(ctx, productID, storeID)
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("find stock: %w", err)
	}
	if rec == nil {
		return domain.StockRecord{}, fmt.Errorf("product %s store %s: %w", productID, storeID, domain.ErrStockNotFound)
	}
	return *rec, nil
}

func (s *StockService) ListStock(ctx context.Context) ([]domain.StockRecord, error) {
	return s.store.List(ctx)
}

func (s *StockService) ListByProduct(ctx context.Context, productID string) ([]domain.StockRecord, error) {
	return s.store.ListByProduct(ctx, productID)
}

func (s *StockService) ListByStore(ctx context.Context, storeID string) ([]domain.StockRecord, error) {
	return s.store.ListByStore(ctx, storeID)
}

// ListLowStock returns records at or below their minimum level.
func (s *StockService) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.StockRecord, 0, len(all))
	for _, rec := range all {
		if rec.IsLowStock() {
			low = append(low, rec)
		}
	}
	return low, nil
}

// DeleteStock is the administrative delete; it bypasses the engine.
func (s *StockService) DeleteStock(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete stock %s: %w", id, err)
	}
	s.log.Warn().Str("stock_id", id).Msg("stock record deleted")
	return nil
}

func (s *StockService) mutateRecorded(ctx context.Context, op, productID, storeID string, qty int, mutationType domain.MutationType, compute ComputeFunc) (domain.StockRecord, error) {
	if err := validateKey(productID, storeID); err != nil {
		return domain.StockRecord{}, err
	}

	eventID := s.beginEvent(ctx, productID, storeID, qty, mutationType)
	rec, err := s.mutate(ctx, op, productID, storeID, compute)
	s.settleEvent(ctx, eventID, err)
	return rec, err
}

func (s *StockService) mutate(ctx context.Context, op, productID, storeID string, compute ComputeFunc) (domain.StockRecord, error) {
	if err := validateKey(productID, storeID); err != nil {
		return domain.StockRecord{}, err
	}

	ctx, span := s.tracer.Start(ctx, "StockService."+op, trace.WithAttributes(
		attribute.String("product_id", productID),
		attribute.String("store_id", storeID),
	))
	defer span.End()

	start := time.Now()
	var (
		saved    domain.StockRecord
		expected int64
		conflict *domain.VersionConflictError
	)

	attempts, err := s.retry.Do(ctx, isVersionConflict, func(attempt int) error {
		s.metrics.MutationAttempt(op)
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))

		current, err := s.load(ctx, productID, storeID)
		if err != nil {
			return err
		}
		expected = current.Version

		candidate, err := compute(current)
		if err != nil {
			return err
		}
		if err := checkCandidate(current, candidate); err != nil {
			return err
		}

		saved, err = s.store.ConditionalSave(ctx, candidate, current.Version)
		if errors.As(err, &conflict) {
			s.metrics.VersionConflict(op)
			s.log.Debug().
				Str("op", op).
				Str("product_id", productID).
				Str("store_id", storeID).
				Int("attempt", attempt).
				Int64("expected_version", conflict.Expected).
				Int64("actual_version", conflict.Actual).
				Msg("version conflict, retrying")
		}
		return err
	})

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrVersionConflict):
		actual := int64(-1)
		if conflict != nil {
			actual = conflict.Actual
		}
		err = &domain.ConcurrentUpdateError{
			ProductID:       productID,
			StoreID:         storeID,
			ExpectedVersion: expected,
			ActualVersion:   actual,
			Attempts:        attempts,
		}
		outcome = OutcomeExhausted
		s.log.Warn().Err(err).Str("op", op).Msg("retry budget exhausted")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeCancelled
	case isDomainError(err):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeStoreFailed
		s.log.Error().Err(err).Str("op", op).Str("product_id", productID).Str("store_id", storeID).Msg("stock mutation failed")
	}

	s.metrics.MutationCompleted(op, outcome, time.Since(start))
	span.SetAttributes(attribute.Int("attempts", attempts), attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return domain.StockRecord{}, err
	}
	return saved, nil
}

// load reads the record for a key, creating a zero record on first use.
func (s *StockService) load(ctx context.Context, productID, storeID string) (domain.StockRecord, error) {
	rec, err := s.store.Find(ctx, productID, storeID)
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("find stock: %w", err)
	}
	if rec != nil {
		return *rec, nil
	}

	fresh := domain.NewStockRecord(productID, storeID, 0, domain.IntPtr(s.autoCreateMax), s.now())
	fresh.ID = s.newID()
	created, err := s.store.Create(ctx, fresh)
	if err == nil {
		s.log.Info().Str("product_id", productID).Str("store_id", storeID).Msg("stock record created on first mutation")
		return created, nil
	}
	if !errors.Is(err, domain.ErrAlreadyExists) {
		return domain.StockRecord{}, fmt.Errorf("create stock: %w", err)
	}

	// another writer created it first
	rec, err = s.store.Find(ctx, productID, storeID)
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("find stock: %w", err)
	}
	if rec == nil {
		return domain.StockRecord{}, fmt.Errorf("product %s store %s: %w", productID, storeID, domain.ErrStockNotFound)
	}
	return *rec, nil
}

func (s *StockService) beginEvent(ctx context.Context, productID, storeID string, qty int, mutationType domain.MutationType) string {
	if s.events == nil {
		return ""
	}
	ev, err := s.events.Record(context.WithoutCancel(ctx), domain.MutationEvent{
		ProductID:     productID,
		StoreID:       storeID,
		Quantity:      qty,
		MutationType:  mutationType,
		Source:        EventSourceFromContext(ctx),
		CorrelationID: CorrelationIDFromContext(ctx),
		Status:        domain.EventPending,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("product_id", productID).Str("store_id", storeID).Msg("failed to record mutation event")
		return ""
	}
	return ev.EventID
}

func (s *StockService) settleEvent(ctx context.Context, eventID string, mutationErr error) {
	if eventID == "" {
		return
	}
	if _, err := s.events.Settle(context.WithoutCancel(ctx), eventID, mutationErr); err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("failed to settle mutation event")
	}
}

func checkCandidate(current, candidate domain.StockRecord) error {
	if candidate.Version != current.Version+1 {
		return fmt.Errorf("compute must advance version by one: read %d, got %d", current.Version, candidate.Version)
	}
	if candidate.ID != current.ID || candidate.ProductID != current.ProductID || candidate.StoreID != current.StoreID {
		return errors.New("compute must not change the record identity")
	}
	return nil
}

func validateKey(productID, storeID string) error {
	if productID == "" {
		return domain.NewValidationError("productId", "product ID is required")
	}
	if storeID == "" {
		return domain.NewValidationError("storeId", "store ID is required")
	}
	return nil
}

func isVersionConflict(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict)
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrStockNotFound)
}
