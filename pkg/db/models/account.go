package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the paying entity warning runs and subscriptions hang off.
type Account struct {
	ID               uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name             string    `gorm:"column:name;not null"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;uniqueIndex"`
	GitHubAccountID  *int64    `gorm:"column:github_account_id;uniqueIndex"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
