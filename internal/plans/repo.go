package plans

import (
	"context"

	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Repository handles plan catalog persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListByStatus(ctx context.Context, status enums.PlanStatus) ([]models.BillingPlan, error)
	FindByPlan(ctx context.Context, plan enums.Plan) (*models.BillingPlan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListByStatus(ctx context.Context, status enums.PlanStatus) ([]models.BillingPlan, error) {
	var rows []models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("monthly_price ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindByPlan(ctx context.Context, plan enums.Plan) (*models.BillingPlan, error) {
	var row models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("plan = ?", plan).
		First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
