package models

import (
	"time"

	"github.com/google/uuid"
)

// WarningRun is one uploaded parse of a build log.
type WarningRun struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID     uuid.UUID `gorm:"column:account_id;type:uuid;not null;index"`
	CommitSHA     *string   `gorm:"column:commit_sha"`
	Branch        *string   `gorm:"column:branch"`
	PullRequest   *int      `gorm:"column:pull_request"`
	TotalWarnings int       `gorm:"column:total_warnings;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime;index"`
}
