package domain

import "time"

const (
	// DefaultMinimumStockLevel and DefaultMaximumStockLevel apply to records
	// created explicitly through CreateStock.
	DefaultMinimumStockLevel = 10
	DefaultMaximumStockLevel = 500

	// AutoCreateMaximumStockLevel caps records synthesized on the first
	// mutation against an unknown key.
	AutoCreateMaximumStockLevel = 1000
)

// MutationType names how a quantity changes current stock.
type MutationType string

const (
	MutationPurchase   MutationType = "PURCHASE"
	MutationSale       MutationType = "SALE"
	MutationAdjustment MutationType = "ADJUSTMENT"
	MutationRestock    MutationType = "RESTOCK"
)

// ParseMutationType accepts the upper-case names used on the wire.
func ParseMutationType(s string) (MutationType, error) {
	switch t := MutationType(s); t {
	case MutationPurchase, MutationSale, MutationAdjustment, MutationRestock:
		return t, nil
	}
	return "", NewValidationError("type", "invalid update type: "+s)
}

// StockRecord is the versioned stock state of one (product, store) pair.
// Methods never modify the receiver; they return the next state.
type StockRecord struct {
	ID                string
	ProductID         string
	StoreID           string
	CurrentStock      int
	ReservedStock     int
	MinimumStockLevel int
	MaximumStockLevel *int // nil means unbounded
	Version           int64
	LastUpdated       time.Time
}

// NewStockRecord returns a zero-stock record at version 0.
func NewStockRecord(productID, storeID string, minimum int, maximum *int, now time.Time) StockRecord {
	return StockRecord{
		ProductID:         productID,
		StoreID:           storeID,
		MinimumStockLevel: minimum,
		MaximumStockLevel: maximum,
		LastUpdated:       now,
	}
}

// Available is current minus reserved stock, floored at zero.
func (r StockRecord) Available() int {
	if a := r.CurrentStock - r.ReservedStock; a > 0 {
		return a
	}
	return 0
}

func (r StockRecord) CanFulfill(qty int) bool {
	return qty > 0 && r.Available() >= qty
}

// IsLowStock reports whether current stock is at or below the minimum level.
// The minimum level is never enforced by mutations.
func (r StockRecord) IsLowStock() bool {
	return r.CurrentStock <= r.MinimumStockLevel
}

func (r StockRecord) Reserve(qty int, now time.Time) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, NewValidationError("quantity", "quantity must be positive")
	}
	if available := r.Available(); available < qty {
		return StockRecord{}, &InsufficientStockError{Available: available, Requested: qty}
	}
	next := r.next(now)
	next.ReservedStock += qty
	return next, nil
}

func (r StockRecord) ReleaseReservation(qty int, now time.Time) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, NewValidationError("quantity", "quantity must be positive")
	}
	if r.ReservedStock < qty {
		return StockRecord{}, NewValidationError("quantity", overReleaseReason(r.ReservedStock, qty))
	}
	next := r.next(now)
	next.ReservedStock -= qty
	return next, nil
}

// ApplyMutation computes the new current stock for the mutation type and
// validates it against zero and the maximum level.
func (r StockRecord) ApplyMutation(qty int, t MutationType, now time.Time) (StockRecord, error) {
	var newStock int
	switch t {
	case MutationPurchase, MutationAdjustment:
		newStock = r.CurrentStock + qty
	case MutationSale:
		newStock = r.CurrentStock - qty
	case MutationRestock:
		newStock = qty
	default:
		return StockRecord{}, NewValidationError("type", "invalid update type: "+string(t))
	}
	if err := r.validateLevel(newStock); err != nil {
		return StockRecord{}, err
	}
	next := r.next(now)
	next.CurrentStock = newStock
	return next, nil
}

// FulfillReservation turns qty of held stock into a sale: both the hold and
// current stock shrink by qty in a single version step.
func (r StockRecord) FulfillReservation(qty int, now time.Time) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, NewValidationError("quantity", "quantity must be positive")
	}
	if r.ReservedStock < qty {
		return StockRecord{}, NewValidationError("quantity", overReleaseReason(r.ReservedStock, qty))
	}
	if err := r.validateLevel(r.CurrentStock - qty); err != nil {
		return StockRecord{}, err
	}
	next := r.next(now)
	next.ReservedStock -= qty
	next.CurrentStock -= qty
	return next, nil
}

// RestoreFulfillment reverses FulfillReservation: qty goes back to both
// current stock and the hold. The maximum level is not checked since the
// units were on hand before the sale.
func (r StockRecord) RestoreFulfillment(qty int, now time.Time) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, NewValidationError("quantity", "quantity must be positive")
	}
	next := r.next(now)
	next.ReservedStock += qty
	next.CurrentStock += qty
	return next, nil
}

func (r StockRecord) validateLevel(newStock int) error {
	if newStock < 0 {
		return NewValidationError("quantity", "stock cannot be negative")
	}
	if r.MaximumStockLevel != nil && newStock > *r.MaximumStockLevel {
		return NewValidationError("quantity", exceedsMaximumReason(*r.MaximumStockLevel, newStock))
	}
	return nil
}

func (r StockRecord) next(now time.Time) StockRecord {
	next := r
	if r.MaximumStockLevel != nil {
		maxLevel := *r.MaximumStockLevel
		next.MaximumStockLevel = &maxLevel
	}
	next.Version = r.Version + 1
	next.LastUpdated = now
	return next
}

// IntPtr is a helper for optional levels.
func IntPtr(v int) *int {
	return &v
}
