package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

// MutationEventModel maps the mutation_events table.
type MutationEventModel struct {
	EventID       string    `gorm:"column:event_id;primaryKey;size:64"`
	ProductID     string    `gorm:"size:128;index:idx_event_product_store"`
	StoreID       string    `gorm:"size:128;index:idx_event_product_store"`
	Quantity      int       `gorm:"not null"`
	MutationType  string    `gorm:"size:32;not null"`
	Source        string    `gorm:"size:32;not null"`
	CorrelationID string    `gorm:"size:128;index"`
	Timestamp     time.Time `gorm:"column:event_timestamp;index;not null"`
	Status        string    `gorm:"size:32;index;not null"`
	ErrorDetails  *string   `gorm:"type:text"`
}

func (MutationEventModel) TableName() string {
	return "mutation_events"
}

// GormEventRepository stores the mutation-event log through gorm.
type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

func (r *GormEventRepository) AutoMigrate() error {
	return errors.Wrap(r.db.AutoMigrate(&MutationEventModel{}), "migrate mutation_events")
}

func (r *GormEventRepository) Save(ctx context.Context, event domain.MutationEvent) error {
	model := toEventModel(event)
	return errors.Wrap(r.db.WithContext(ctx).Create(&model).Error, "insert mutation event")
}

func (r *GormEventRepository) FindByID(ctx context.Context, id string) (*domain.MutationEvent, error) {
	var model MutationEventModel
	err := r.db.WithContext(ctx).Where("event_id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find mutation event")
	}
	event := toEventDomain(model)
	return &event, nil
}

func (r *GormEventRepository) FindByStatus(ctx context.Context, status domain.EventStatus) ([]domain.MutationEvent, error) {
	return r.find(ctx, "status = ?", string(status))
}

func (r *GormEventRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]domain.MutationEvent, error) {
	return r.find(ctx, "correlation_id = ?", correlationID)
}

func (r *GormEventRepository) List(ctx context.Context) ([]domain.MutationEvent, error) {
	return r.find(ctx, "1 = 1")
}

func (r *GormEventRepository) UpdateStatus(ctx context.Context, id string, status domain.EventStatus, errorDetails *string) (domain.MutationEvent, error) {
	res := r.db.WithContext(ctx).
		Model(&MutationEventModel{}).
		Where("event_id = ?", id).
		Updates(statusUpdates(status, errorDetails))
	if res.Error != nil {
		return domain.MutationEvent{}, errors.Wrap(res.Error, "update mutation event")
	}
	return r.reload(ctx, id)
}

func (r *GormEventRepository) CompareAndUpdateStatus(ctx context.Context, id string, expected, status domain.EventStatus, errorDetails *string) (domain.MutationEvent, error) {
	res := r.db.WithContext(ctx).
		Model(&MutationEventModel{}).
		Where("event_id = ? AND status = ?", id, string(expected)).
		Updates(statusUpdates(status, errorDetails))
	if res.Error != nil {
		return domain.MutationEvent{}, errors.Wrap(res.Error, "update mutation event")
	}
	if res.RowsAffected == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return domain.MutationEvent{}, err
		}
		if current == nil {
			return domain.MutationEvent{}, errors.Wrapf(domain.ErrEventNotFound, "event %s", id)
		}
		return domain.MutationEvent{}, errors.Wrapf(domain.ErrEventStatusMismatch, "event %s is %s", id, current.Status)
	}
	return r.reload(ctx, id)
}

func (r *GormEventRepository) reload(ctx context.Context, id string) (domain.MutationEvent, error) {
	event, err := r.FindByID(ctx, id)
	if err != nil {
		return domain.MutationEvent{}, err
	}
	if event == nil {
		return domain.MutationEvent{}, errors.Wrapf(domain.ErrEventNotFound, "event %s", id)
	}
	return *event, nil
}

func (r *GormEventRepository) find(ctx context.Context, query string, args ...any) ([]domain.MutationEvent, error) {
	var models []MutationEventModel
	err := r.db.WithContext(ctx).Where(query, args...).Order("event_timestamp").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query mutation events")
	}

	out := make([]domain.MutationEvent, 0, len(models))
	for _, m := range models {
		out = append(out, toEventDomain(m))
	}
	return out, nil
}

func statusUpdates(status domain.EventStatus, errorDetails *string) map[string]any {
	updates := map[string]any{"status": string(status)}
	if errorDetails != nil {
		updates["error_details"] = *errorDetails
	}
	return updates
}

func toEventModel(e domain.MutationEvent) MutationEventModel {
	return MutationEventModel{
		EventID:       e.EventID,
		ProductID:     e.ProductID,
		StoreID:       e.StoreID,
		Quantity:      e.Quantity,
		MutationType:  string(e.MutationType),
		Source:        e.Source,
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp.UTC(),
		Status:        string(e.Status),
		ErrorDetails:  e.ErrorDetails,
	}
}

func toEventDomain(m MutationEventModel) domain.MutationEvent {
	return domain.MutationEvent{
		EventID:       m.EventID,
		ProductID:     m.ProductID,
		StoreID:       m.StoreID,
		Quantity:      m.Quantity,
		MutationType:  domain.MutationType(m.MutationType),
		Source:        m.Source,
		CorrelationID: m.CorrelationID,
		Timestamp:     m.Timestamp.UTC(),
		Status:        domain.EventStatus(m.Status),
		ErrorDetails:  m.ErrorDetails,
	}
}
