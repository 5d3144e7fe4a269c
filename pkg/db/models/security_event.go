package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// SecurityEvent is raised when an audit entry's risk score crosses the
// review threshold.
type SecurityEvent struct {
	ID           uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AuditEntryID uuid.UUID              `gorm:"column:audit_entry_id;type:uuid;not null;index"`
	Severity     enums.SecuritySeverity `gorm:"column:severity;not null;index"`
	Description  string                 `gorm:"column:description;not null"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
}
