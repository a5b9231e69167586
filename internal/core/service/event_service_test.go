package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-service/internal/adapter/storage"
	"github.com/rl1809/inventory-service/internal/core/domain"
)

// Mock EventPublisher
type mockPublisher struct {
	mu        sync.Mutex
	published []domain.MutationEvent
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, e domain.MutationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, e)
	return m.err
}

func recordProcessed(t *testing.T, svc *EventService, mt domain.MutationType) domain.MutationEvent {
	t.Helper()
	ctx := context.Background()
	ev, err := svc.Record(ctx, domain.MutationEvent{ProductID: "p-1", StoreID: "s-1", Quantity: 3, MutationType: mt})
	require.NoError(t, err)
	ev, err = svc.Settle(ctx, ev.EventID, nil)
	require.NoError(t, err)
	return ev
}

func TestEventService_RecordFillsDefaults(t *testing.T) {
	svc := NewEventService(storage.NewMemoryEventRepository(), WithIDGenerator(func() string { return "e-1" }))

	ev, err := svc.Record(context.Background(), domain.MutationEvent{MutationType: domain.MutationPurchase})
	require.NoError(t, err)
	assert.Equal(t, "e-1", ev.EventID)
	assert.Equal(t, domain.EventPending, ev.Status)
	assert.Equal(t, domain.EventSourceAPI, ev.Source)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEventService_SettlePublishes(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := NewEventService(storage.NewMemoryEventRepository(), WithEventPublisher(pub))
	ctx := context.Background()

	ev, err := svc.Record(ctx, domain.MutationEvent{MutationType: domain.MutationSale})
	require.NoError(t, err)

	failed, err := svc.Settle(ctx, ev.EventID, errors.New("stock cannot be negative"))
	require.NoError(t, err)
	assert.Equal(t, domain.EventFailed, failed.Status)
	require.NotNil(t, failed.ErrorDetails)

	require.Len(t, pub.published, 1)
	assert.Equal(t, domain.EventFailed, pub.published[0].Status)

	_, err = svc.Settle(ctx, "missing", nil)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestEventService_CompensateOnce(t *testing.T) {
	svc := NewEventService(storage.NewMemoryEventRepository())
	ctx := context.Background()
	ev := recordProcessed(t, svc, domain.MutationSale)

	compensated, err := svc.CompensateEvent(ctx, ev.EventID, "customer returned goods")
	require.NoError(t, err)
	assert.Equal(t, domain.EventCompensated, compensated.Status)
	require.NotNil(t, compensated.ErrorDetails)
	assert.Equal(t, "customer returned goods", *compensated.ErrorDetails)

	_, err = svc.CompensateEvent(ctx, ev.EventID, "again")
	assert.ErrorIs(t, err, domain.ErrNotCompensatable)
}

func TestEventService_CompensateRejections(t *testing.T) {
	svc := NewEventService(storage.NewMemoryEventRepository())
	ctx := context.Background()

	adjustment := recordProcessed(t, svc, domain.MutationAdjustment)
	_, err := svc.CompensateEvent(ctx, adjustment.EventID, "oops")
	assert.ErrorIs(t, err, domain.ErrNotCompensatable)

	pending, err := svc.Record(ctx, domain.MutationEvent{MutationType: domain.MutationPurchase})
	require.NoError(t, err)
	_, err = svc.CompensateEvent(ctx, pending.EventID, "oops")
	assert.ErrorIs(t, err, domain.ErrNotCompensatable)

	sale := recordProcessed(t, svc, domain.MutationSale)
	_, err = svc.CompensateEvent(ctx, sale.EventID, "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CompensateEvent(ctx, "missing", "oops")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestEventService_ConcurrentCompensationHasOneWinner(t *testing.T) {
	svc := NewEventService(storage.NewMemoryEventRepository())
	ev := recordProcessed(t, svc, domain.MutationPurchase)

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CompensateEvent(context.Background(), ev.EventID, "refund"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestEventService_Queries(t *testing.T) {
	svc := NewEventService(storage.NewMemoryEventRepository())
	ctx := context.Background()
	recordProcessed(t, svc, domain.MutationSale)
	_, err := svc.Record(ctx, domain.MutationEvent{MutationType: domain.MutationRestock})
	require.NoError(t, err)

	all, err := svc.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := svc.ListEventsByStatus(ctx, domain.EventPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.MutationRestock, pending[0].MutationType)

	got, err := svc.GetEvent(ctx, pending[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, pending[0], got)
}
