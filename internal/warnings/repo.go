package warnings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
)

// TypeCount is an aggregate bucket for the trend summary.
type TypeCount struct {
	Type  string `gorm:"column:type"`
	Count int64  `gorm:"column:count"`
}

// SeverityCount is an aggregate bucket for the trend summary.
type SeverityCount struct {
	Severity string `gorm:"column:severity"`
	Count    int64  `gorm:"column:count"`
}

// Repository handles warning run persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRun(ctx context.Context, run *models.WarningRun) error
	CreateWarnings(ctx context.Context, warnings []models.Warning) error
	FindRunByID(ctx context.Context, id uuid.UUID) (*models.WarningRun, error)
	ListRunsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.WarningRun, error)
	ListWarningsByRun(ctx context.Context, runID uuid.UUID) ([]models.Warning, error)
	CountByType(ctx context.Context, accountID uuid.UUID, since time.Time) ([]TypeCount, error)
	CountBySeverity(ctx context.Context, accountID uuid.UUID, since time.Time) ([]SeverityCount, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a warning repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRun(ctx context.Context, run *models.WarningRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *repository) CreateWarnings(ctx context.Context, warnings []models.Warning) error {
	if len(warnings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&warnings).Error
}

func (r *repository) FindRunByID(ctx context.Context, id uuid.UUID) (*models.WarningRun, error) {
	var run models.WarningRun
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *repository) ListRunsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.WarningRun, error) {
	var runs []models.WarningRun
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repository) ListWarningsByRun(ctx context.Context, runID uuid.UUID) ([]models.Warning, error) {
	var rows []models.Warning
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("file_path, line_number").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountByType(ctx context.Context, accountID uuid.UUID, since time.Time) ([]TypeCount, error) {
	var counts []TypeCount
	if err := r.db.WithContext(ctx).
		Model(&models.Warning{}).
		Select("warnings.type AS type, COUNT(*) AS count").
		Joins("JOIN warning_runs ON warning_runs.id = warnings.run_id").
		Where("warning_runs.account_id = ? AND warning_runs.created_at >= ?", accountID, since).
		Group("warnings.type").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *repository) CountBySeverity(ctx context.Context, accountID uuid.UUID, since time.Time) ([]SeverityCount, error) {
	var counts []SeverityCount
	if err := r.db.WithContext(ctx).
		Model(&models.Warning{}).
		Select("warnings.severity AS severity, COUNT(*) AS count").
		Joins("JOIN warning_runs ON warning_runs.id = warnings.run_id").
		Where("warning_runs.account_id = ? AND warning_runs.created_at >= ?", accountID, since).
		Group("warnings.severity").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}
