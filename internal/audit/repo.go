package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Repository handles audit trail persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateEntry(ctx context.Context, entry *models.AuditEntry) error
	CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	ListEntriesByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.AuditEntry, error)
	ListSecurityEvents(ctx context.Context, severity *enums.SecuritySeverity, since time.Time, limit int) ([]models.SecurityEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEntriesByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []models.AuditEntry
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListSecurityEvents(ctx context.Context, severity *enums.SecuritySeverity, since time.Time, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Model(&models.SecurityEvent{})
	if severity != nil {
		query = query.Where("severity = ?", *severity)
	}
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	var events []models.SecurityEvent
	if err := query.Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
