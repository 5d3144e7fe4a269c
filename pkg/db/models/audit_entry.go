package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// AuditEntry records a state-changing operation with its derived risk score.
// Entries are immutable once written.
type AuditEntry struct {
	ID        uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID *uuid.UUID          `gorm:"column:account_id;type:uuid;index"`
	Actor     string              `gorm:"column:actor;not null"`
	Category  enums.AuditCategory `gorm:"column:category;not null;index"`
	Action    string              `gorm:"column:action;not null"`
	RiskScore int                 `gorm:"column:risk_score;not null;default:0"`
	Success   bool                `gorm:"column:success;not null;default:true"`
	Metadata  json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime;index"`
}
