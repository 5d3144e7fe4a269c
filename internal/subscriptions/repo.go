package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, provider enums.BillingProvider, externalSubscriptionID string, forUpdate bool) (*models.Subscription, error)
	FindLiveByAccountProvider(ctx context.Context, accountID uuid.UUID, provider enums.BillingProvider, forUpdate bool) (*models.Subscription, error)
	ListLiveByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Subscription, error)
	ListLive(ctx context.Context, limit, offset int) ([]models.Subscription, error)
	ListExpiredCancellations(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// lockable guards the FOR UPDATE clause behind the dialect: sqlite has no row
// locks and rejects the syntax.
func (r *repository) lockable(query *gorm.DB, forUpdate bool) *gorm.DB {
	if forUpdate && r.db.Dialector.Name() == "postgres" {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByProviderSubscriptionID(ctx context.Context, provider enums.BillingProvider, externalSubscriptionID string, forUpdate bool) (*models.Subscription, error) {
	if externalSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	query := r.db.WithContext(ctx).
		Where("provider = ? AND external_subscription_id = ?", provider, externalSubscriptionID)
	if err := r.lockable(query, forUpdate).First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindLiveByAccountProvider(ctx context.Context, accountID uuid.UUID, provider enums.BillingProvider, forUpdate bool) (*models.Subscription, error) {
	var sub models.Subscription
	query := r.db.WithContext(ctx).
		Where("account_id = ? AND provider = ?", accountID, provider).
		Where("status IN ?", []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusTrialing,
		})
	if err := r.lockable(query, forUpdate).First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListLiveByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("status IN ?", []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusTrialing,
		}).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListLive(ctx context.Context, limit, offset int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusTrialing,
		}).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListExpiredCancellations returns subscriptions scheduled to cancel whose
// period has already ended.
func (r *repository) ListExpiredCancellations(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("cancel_at_period_end = ?", true).
		Where("status IN ?", []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusTrialing,
		}).
		Where("current_period_end <= ?", asOf).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
