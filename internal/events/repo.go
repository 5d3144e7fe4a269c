package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Repository handles billing event persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.BillingEvent) error
	FindByProviderEventID(ctx context.Context, provider enums.BillingProvider, externalEventID string) (*models.BillingEvent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.BillingEvent, error)
	Update(ctx context.Context, event *models.BillingEvent) error
	ListFailed(ctx context.Context, limit int, maxAge time.Duration) ([]models.BillingEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByProviderEventID(ctx context.Context, provider enums.BillingProvider, externalEventID string) (*models.BillingEvent, error) {
	if externalEventID == "" {
		return nil, nil
	}
	var event models.BillingEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.BillingEvent, error) {
	var event models.BillingEvent
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) Update(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) ListFailed(ctx context.Context, limit int, maxAge time.Duration) ([]models.BillingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("status = ?", enums.BillingEventStatusFailed)
	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge)
		query = query.Where("received_at >= ?", cutoff)
	}
	var batch []models.BillingEvent
	if err := query.Order("received_at ASC").Limit(limit).Find(&batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}
