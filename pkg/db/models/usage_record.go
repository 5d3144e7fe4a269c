package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// UsageRecord is the append-only metering ledger. Summing Quantity for a
// (subscription, metric, period) always equals the cached UsageLimit.Current.
type UsageRecord struct {
	ID             uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID         `gorm:"column:subscription_id;type:uuid;not null;index"`
	Metric         enums.UsageMetric `gorm:"column:metric;not null"`
	PeriodStart    time.Time         `gorm:"column:period_start;not null;index"`
	Quantity       int64             `gorm:"column:quantity;not null"`
	RecordedAt     time.Time         `gorm:"column:recorded_at;autoCreateTime"`
}
