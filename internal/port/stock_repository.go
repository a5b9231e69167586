package port

import (
	"context"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type StockRepository interface {
	// Find returns the record for a key, or nil when none exists
	Find(ctx context.Context, productID, storeID string) (*domain.StockRecord, error)

	// FindByID returns the record with the given id, or nil when none exists
	FindByID(ctx context.Context, id string) (*domain.StockRecord, error)

	// Create inserts a new record, failing with domain.ErrAlreadyExists on a duplicate key
	Create(ctx context.Context, record domain.StockRecord) (domain.StockRecord, error)

	// ConditionalSave writes record only if the stored version still equals expectedVersion.
	// A lost race returns a *domain.VersionConflictError and leaves the row untouched.
	ConditionalSave(ctx context.Context, record domain.StockRecord, expectedVersion int64) (domain.StockRecord, error)

	// List returns every record
	List(ctx context.Context) ([]domain.StockRecord, error)

	// ListByProduct returns the records of a product across stores
	ListByProduct(ctx context.Context, productID string) ([]domain.StockRecord, error)

	// ListByStore returns the records held by a store
	ListByStore(ctx context.Context, storeID string) ([]domain.StockRecord, error)

	// Delete removes a record by id, failing with domain.ErrStockNotFound when absent
	Delete(ctx context.Context, id string) error
}
