package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type stockKey struct {
	productID string
	storeID   string
}

// MemoryStockRepository keeps stock records in process memory.
// ConditionalSave is atomic under mu.
type MemoryStockRepository struct {
	mu    sync.RWMutex
	byKey map[stockKey]domain.StockRecord
	keyOf map[string]stockKey
}

func NewMemoryStockRepository() *MemoryStockRepository {
	return &MemoryStockRepository{
		byKey: make(map[stockKey]domain.StockRecord),
		keyOf: make(map[string]stockKey),
	}
}

func (m *MemoryStockRepository) Find(_ context.Context, productID, storeID string) (*domain.StockRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byKey[stockKey{productID, storeID}]
	if !ok {
		return nil, nil
	}
	return cloneStock(rec), nil
}

func (m *MemoryStockRepository) FindByID(_ context.Context, id string) (*domain.StockRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keyOf[id]
	if !ok {
		return nil, nil
	}
	return cloneStock(m.byKey[key]), nil
}

func (m *MemoryStockRepository) Create(_ context.Context, record domain.StockRecord) (domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stockKey{record.ProductID, record.StoreID}
	if _, ok := m.byKey[key]; ok {
		return domain.StockRecord{}, errors.Wrapf(domain.ErrAlreadyExists, "product %s store %s", record.ProductID, record.StoreID)
	}
	if _, ok := m.keyOf[record.ID]; ok {
		return domain.StockRecord{}, errors.Wrapf(domain.ErrAlreadyExists, "stock id %s", record.ID)
	}
	m.byKey[key] = *cloneStock(record)
	m.keyOf[record.ID] = key
	return *cloneStock(record), nil
}

func (m *MemoryStockRepository) ConditionalSave(_ context.Context, record domain.StockRecord, expectedVersion int64) (domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stockKey{record.ProductID, record.StoreID}
	stored, ok := m.byKey[key]
	if !ok {
		return domain.StockRecord{}, &domain.VersionConflictError{Expected: expectedVersion, Actual: -1}
	}
	if stored.Version != expectedVersion {
		return domain.StockRecord{}, &domain.VersionConflictError{Expected: expectedVersion, Actual: stored.Version}
	}
	record.ID = stored.ID
	m.byKey[key] = *cloneStock(record)
	return *cloneStock(record), nil
}

func (m *MemoryStockRepository) List(_ context.Context) ([]domain.StockRecord, error) {
	return m.collect(func(domain.StockRecord) bool { return true }), nil
}

func (m *MemoryStockRepository) ListByProduct(_ context.Context, productID string) ([]domain.StockRecord, error) {
	return m.collect(func(r domain.StockRecord) bool { return r.ProductID == productID }), nil
}

func (m *MemoryStockRepository) ListByStore(_ context.Context, storeID string) ([]domain.StockRecord, error) {
	return m.collect(func(r domain.StockRecord) bool { return r.StoreID == storeID }), nil
}

func (m *MemoryStockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keyOf[id]
	if !ok {
		return errors.Wrapf(domain.ErrStockNotFound, "stock %s", id)
	}
	delete(m.keyOf, id)
	delete(m.byKey, key)
	return nil
}

func (m *MemoryStockRepository) collect(keep func(domain.StockRecord) bool) []domain.StockRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.StockRecord, 0, len(m.byKey))
	for _, rec := range m.byKey {
		if keep(rec) {
			out = append(out, *cloneStock(rec))
		}
	}
	slices.SortFunc(out, func(a, b domain.StockRecord) int {
		return cmp.Or(cmp.Compare(a.ProductID, b.ProductID), cmp.Compare(a.StoreID, b.StoreID))
	})
	return out
}

func cloneStock(r domain.StockRecord) *domain.StockRecord {
	if r.MaximumStockLevel != nil {
		r.MaximumStockLevel = domain.IntPtr(*r.MaximumStockLevel)
	}
	return &r
}
