package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// UsageLimit caches the current-period counter and ceiling for one metric.
// Current never exceeds Ceiling at any committed state; the conditional
// update in the metering repository is the only writer of Current.
type UsageLimit struct {
	ID             uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID         `gorm:"column:subscription_id;type:uuid;not null;index:ux_usage_limits_sub_metric_period,unique,priority:1"`
	Metric         enums.UsageMetric `gorm:"column:metric;not null;index:ux_usage_limits_sub_metric_period,unique,priority:2"`
	PeriodStart    time.Time         `gorm:"column:period_start;not null;index:ux_usage_limits_sub_metric_period,unique,priority:3"`
	Ceiling        int64             `gorm:"column:ceiling;not null"`
	Current        int64             `gorm:"column:current;not null;default:0"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
