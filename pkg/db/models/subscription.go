package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Subscription is the authoritative billing record per account and provider.
// Rows are never hard-deleted; cancellation flips status and keeps the record
// for audit.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID              uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	Provider               enums.BillingProvider    `gorm:"column:provider;not null;index:ux_subscriptions_provider_external,unique,priority:1"`
	ExternalSubscriptionID *string                  `gorm:"column:external_subscription_id;index:ux_subscriptions_provider_external,unique,priority:2"`
	Plan                   enums.Plan               `gorm:"column:plan;not null;default:'free'"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	BillingCycle           enums.BillingCycle       `gorm:"column:billing_cycle;not null;default:'monthly'"`
	UnitCount              int                      `gorm:"column:unit_count;not null;default:1"`
	OnFreeTrial            bool                     `gorm:"column:on_free_trial;not null;default:false"`
	TrialEnd               *time.Time               `gorm:"column:trial_end"`
	CurrentPeriodStart     *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd       time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd      bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt             *time.Time               `gorm:"column:canceled_at"`
	Metadata               json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
