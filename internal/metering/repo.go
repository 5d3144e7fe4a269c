package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Repository handles usage counter persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateLimit(ctx context.Context, limit *models.UsageLimit) error
	FindLimit(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time) (*models.UsageLimit, error)
	ListLimits(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) ([]models.UsageLimit, error)
	TryIncrement(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time, quantity int64) (bool, error)
	UpdateCeiling(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time, ceiling int64) error
	CreateRecord(ctx context.Context, record *models.UsageRecord) error
	SumRecords(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a metering repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateLimit(ctx context.Context, limit *models.UsageLimit) error {
	return r.db.WithContext(ctx).Create(limit).Error
}

func (r *repository) FindLimit(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time) (*models.UsageLimit, error) {
	var limit models.UsageLimit
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND metric = ? AND period_start = ?", subscriptionID, metric, periodStart).
		First(&limit).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &limit, nil
}

func (r *repository) ListLimits(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) ([]models.UsageLimit, error) {
	var limits []models.UsageLimit
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND period_start = ?", subscriptionID, periodStart).
		Order("metric ASC").
		Find(&limits).Error; err != nil {
		return nil, err
	}
	return limits, nil
}

// TryIncrement is the single writer of UsageLimit.Current. The guard rides in
// the WHERE clause so two racing callers serialize on the row lock and the
// loser re-evaluates against the winner's committed value.
func (r *repository) TryIncrement(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time, quantity int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UsageLimit{}).
		Where("subscription_id = ? AND metric = ? AND period_start = ?", subscriptionID, metric, periodStart).
		Where("ceiling < 0 OR current + ? <= ceiling", quantity).
		Update("current", gorm.Expr("current + ?", quantity))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateCeiling re-ceilings the current period after a plan change. A finite
// ceiling never drops below the already-consumed count, so the row keeps its
// invariant and further usage is denied instead of clawed back.
func (r *repository) UpdateCeiling(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time, ceiling int64) error {
	query := r.db.WithContext(ctx).
		Model(&models.UsageLimit{}).
		Where("subscription_id = ? AND metric = ? AND period_start = ?", subscriptionID, metric, periodStart)
	if ceiling < 0 {
		return query.Update("ceiling", ceiling).Error
	}
	return query.Update("ceiling", gorm.Expr("CASE WHEN current > ? THEN current ELSE ? END", ceiling, ceiling)).Error
}

func (r *repository) CreateRecord(ctx context.Context, record *models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) SumRecords(ctx context.Context, subscriptionID uuid.UUID, metric enums.UsageMetric, periodStart time.Time) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("subscription_id = ? AND metric = ? AND period_start = ?", subscriptionID, metric, periodStart).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
