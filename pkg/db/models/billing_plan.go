package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// BillingPlan is one row of the purchasable plan catalog. The billing
// providers stay the source of truth for charging; this table backs the
// pricing surface and maps provider plan identifiers to the internal tier.
type BillingPlan struct {
	ID                uuid.UUID        `gorm:"column:id;primaryKey"`
	Plan              enums.Plan       `gorm:"column:plan;not null;uniqueIndex"`
	Name              string           `gorm:"column:name;not null"`
	Status            enums.PlanStatus `gorm:"column:status;not null;default:'active'"`
	MonthlyPrice      decimal.Decimal  `gorm:"column:monthly_price;type:numeric(10,2);not null"`
	YearlyPrice       decimal.Decimal  `gorm:"column:yearly_price;type:numeric(10,2);not null"`
	Features          pq.StringArray   `gorm:"column:features;type:text[]"`
	StripePriceID     *string          `gorm:"column:stripe_price_id"`
	MarketplacePlanID *string          `gorm:"column:marketplace_plan_id"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
