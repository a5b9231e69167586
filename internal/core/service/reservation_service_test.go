package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-service/internal/adapter/storage"
	"github.com/rl1809/inventory-service/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type lifecycleFixture struct {
	clock        *fakeClock
	stockStore   *storage.MemoryStockRepository
	reservations *storage.MemoryReservationRepository
	events       *EventService
	stock        *StockService
	svc          *ReservationService
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		clock:        &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)},
		stockStore:   storage.NewMemoryStockRepository(),
		reservations: storage.NewMemoryReservationRepository(),
	}
	f.events = NewEventService(storage.NewMemoryEventRepository(), WithClock(f.clock.Now))
	f.stock = NewStockService(f.stockStore, WithRetryPolicy(fastRetry), WithClock(f.clock.Now), WithEventRecorder(f.events))
	f.svc = NewReservationService(f.reservations, f.stock, WithClock(f.clock.Now))
	seed(t, f.stockStore, "p-1", "s-1", 100, 0)
	return f
}

func (f *lifecycleFixture) record(t *testing.T) domain.StockRecord {
	t.Helper()
	rec, err := f.stock.GetStockByKey(context.Background(), "p-1", "s-1")
	require.NoError(t, err)
	return rec
}

func TestReservation_CreateThenConfirm(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := WithCorrelationID(context.Background(), "order-7")

	res, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReserved, res.Status)
	assert.Contains(t, res.ReservationID, domain.ReservationIDPrefix)
	assert.Equal(t, "order-7", res.CorrelationID)
	assert.Equal(t, 10, f.record(t).ReservedStock)

	confirmed, err := f.svc.ConfirmReservation(context.Background(), res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, confirmed.Status)

	rec := f.record(t)
	assert.Equal(t, 90, rec.CurrentStock)
	assert.Equal(t, 0, rec.ReservedStock)
	assert.Equal(t, 90, rec.Available())

	sales, err := f.events.ListEventsByCorrelationID(context.Background(), "order-7")
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, domain.MutationSale, sales[0].MutationType)
	assert.Equal(t, domain.EventSourceSystem, sales[0].Source)
	assert.Equal(t, domain.EventProcessed, sales[0].Status)

	_, err = f.svc.ConfirmReservation(context.Background(), res.ReservationID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestReservation_ExpiredCannotBeConfirmed(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 10)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)

	_, err = f.svc.ConfirmReservation(ctx, res.ReservationID)
	assert.ErrorIs(t, err, domain.ErrReservationExpired)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	valid, err := f.svc.IsReservationValid(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.False(t, valid)

	rec := f.record(t)
	assert.Equal(t, 100, rec.CurrentStock)
	assert.Equal(t, 10, rec.ReservedStock)
}

func TestReservation_ReleaseTwice(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 15)
	require.NoError(t, err)

	released, err := f.svc.ReleaseReservation(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, released.Status)
	assert.Equal(t, 0, f.record(t).ReservedStock)

	_, err = f.svc.ReleaseReservation(ctx, res.ReservationID)
	var transition *domain.InvalidStateTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, domain.ReservationReleased, transition.From)
	assert.Equal(t, 0, f.record(t).ReservedStock)
}

// Mock StockHolder that holds the first two release or fulfil calls until
// both have arrived, so both callers apply their stock effect before either
// moves the reservation status.
type mockBarrierHolder struct {
	StockHolder
	calls atomic.Int32
	ready sync.WaitGroup
}

func newMockBarrierHolder(inner StockHolder) *mockBarrierHolder {
	h := &mockBarrierHolder{StockHolder: inner}
	h.ready.Add(2)
	return h
}

func (h *mockBarrierHolder) wait() {
	if h.calls.Add(1) <= 2 {
		h.ready.Done()
		h.ready.Wait()
	}
}

func (h *mockBarrierHolder) ReleaseReservedStock(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error) {
	h.wait()
	return h.StockHolder.ReleaseReservedStock(ctx, productID, storeID, qty)
}

func (h *mockBarrierHolder) FulfillReservation(ctx context.Context, productID, storeID string, qty int) (domain.StockRecord, error) {
	h.wait()
	return h.StockHolder.FulfillReservation(ctx, productID, storeID, qty)
}

// racePair creates a 15-unit reservation next to a 20-unit one on the same
// key and runs op1 and op2 on the 15-unit reservation at the same time.
func racePair(t *testing.T, f *lifecycleFixture, op1, op2 func(*ReservationService, context.Context, string) (domain.Reservation, error)) (domain.Reservation, []error) {
	t.Helper()
	ctx := context.Background()

	res, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 15)
	require.NoError(t, err)
	_, err = f.svc.CreateReservation(ctx, "p-1", "s-1", 20)
	require.NoError(t, err)
	require.Equal(t, 35, f.record(t).ReservedStock)

	racing := NewReservationService(f.reservations, newMockBarrierHolder(f.stock), WithClock(f.clock.Now))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, op := range []func(*ReservationService, context.Context, string) (domain.Reservation, error){op1, op2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = op(racing, ctx, res.ReservationID)
		}()
	}
	wg.Wait()

	got, err := f.svc.GetReservation(ctx, res.ReservationID)
	require.NoError(t, err)
	return got, errs
}

func countNil(errs []error) int {
	n := 0
	for _, err := range errs {
		if err == nil {
			n++
		}
	}
	return n
}

func TestReservation_ConcurrentReleaseReleasesOnce(t *testing.T) {
	f := newLifecycleFixture(t)

	got, errs := racePair(t, f, (*ReservationService).ReleaseReservation, (*ReservationService).ReleaseReservation)

	assert.Equal(t, 1, countNil(errs), "errs=%v", errs)
	assert.Equal(t, domain.ReservationReleased, got.Status)
	rec := f.record(t)
	assert.Equal(t, 20, rec.ReservedStock, "only the other reservation's hold remains")
	assert.Equal(t, 100, rec.CurrentStock)
}

func TestReservation_ConfirmRacingReleaseAppliesOneEffect(t *testing.T) {
	f := newLifecycleFixture(t)

	got, errs := racePair(t, f, (*ReservationService).ConfirmReservation, (*ReservationService).ReleaseReservation)

	assert.Equal(t, 1, countNil(errs), "errs=%v", errs)
	rec := f.record(t)
	assert.Equal(t, 20, rec.ReservedStock)
	switch got.Status {
	case domain.ReservationConfirmed:
		assert.Equal(t, 85, rec.CurrentStock)
	case domain.ReservationReleased:
		assert.Equal(t, 100, rec.CurrentStock)
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestReservation_ConcurrentConfirmSellsOnce(t *testing.T) {
	f := newLifecycleFixture(t)

	got, errs := racePair(t, f, (*ReservationService).ConfirmReservation, (*ReservationService).ConfirmReservation)

	assert.Equal(t, 1, countNil(errs), "errs=%v", errs)
	assert.Equal(t, domain.ReservationConfirmed, got.Status)
	rec := f.record(t)
	assert.Equal(t, 85, rec.CurrentStock)
	assert.Equal(t, 20, rec.ReservedStock)
}

func TestReservation_CreateDrawsAnotherIDOnCollision(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	taken, err := domain.NewReservation(domain.ReservationIDPrefix+"TAKEN", "p-1", "s-1", 1, "", f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.reservations.Save(ctx, taken))

	ids := []string{"taken", "fresh"}
	var next atomic.Int32
	svc := NewReservationService(f.reservations, f.stock, WithClock(f.clock.Now), WithIDGenerator(func() string {
		return ids[int(next.Add(1))-1]
	}))

	res, err := svc.CreateReservation(ctx, "p-1", "s-1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationIDPrefix+"FRESH", res.ReservationID)
	assert.Equal(t, 5, f.record(t).ReservedStock)
}

func TestReservation_CreateGivesUpWhenEveryIDIsTaken(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	taken, err := domain.NewReservation(domain.ReservationIDPrefix+"SAME", "p-1", "s-1", 1, "", f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.reservations.Save(ctx, taken))

	svc := NewReservationService(f.reservations, f.stock, WithClock(f.clock.Now), WithIDGenerator(func() string { return "same" }))

	_, err = svc.CreateReservation(ctx, "p-1", "s-1", 5)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, 0, f.record(t).ReservedStock)
}

func TestReservation_InsufficientStockLeavesPending(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 101)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	all, err := f.svc.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.ReservationPending, all[0].Status)
	assert.Equal(t, 0, f.record(t).ReservedStock)

	// a pending release only changes status
	released, err := f.svc.ReleaseReservation(ctx, all[0].ReservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, released.Status)
	assert.Equal(t, 0, f.record(t).ReservedStock)
}

func TestReservation_InvalidQuantityPersistsNothing(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.CreateReservation(context.Background(), "p-1", "s-1", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	all, err := f.svc.ListReservations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReservation_NotFound(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmReservation(ctx, "RES_missing")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	_, err = f.svc.ReleaseReservation(ctx, "RES_missing")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	_, err = f.svc.GetReservation(ctx, "RES_missing")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	valid, err := f.svc.IsReservationValid(ctx, "RES_missing")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestReservation_ExpireDue(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	old, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 10)
	require.NoError(t, err)
	confirmed, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 5)
	require.NoError(t, err)
	_, err = f.svc.ConfirmReservation(ctx, confirmed.ReservationID)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	fresh, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 7)
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	n, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetReservation(ctx, old.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, got.Status)

	rec := f.record(t)
	assert.Equal(t, 95, rec.CurrentStock)
	assert.Equal(t, 7, rec.ReservedStock)

	valid, err := f.svc.IsReservationValid(ctx, fresh.ReservationID)
	require.NoError(t, err)
	assert.True(t, valid)

	n, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Mock StockHolder failing every release.
type mockFailingHolder struct {
	StockHolder
}

func (mockFailingHolder) ReleaseReservedStock(context.Context, string, string, int) (domain.StockRecord, error) {
	return domain.StockRecord{}, errors.New("store unavailable")
}

func TestReservation_ExpireDueJoinsFailures(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateReservation(ctx, "p-1", "s-1", 10)
	require.NoError(t, err)
	_, err = f.svc.CreateReservation(ctx, "p-1", "s-1", 10)
	require.NoError(t, err)

	broken := NewReservationService(f.reservations, mockFailingHolder{StockHolder: f.stock}, WithClock(f.clock.Now))
	f.clock.Advance(time.Hour)

	n, err := broken.ExpireDue(ctx)
	assert.Zero(t, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")

	// nothing flipped, so a healthy sweep still releases the holds
	n, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, f.record(t).ReservedStock)
}
