package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Warning is one Swift concurrency diagnostic inside a run.
type Warning struct {
	ID           uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RunID        uuid.UUID             `gorm:"column:run_id;type:uuid;not null;index"`
	Type         enums.WarningType     `gorm:"column:type;not null;index"`
	Severity     enums.WarningSeverity `gorm:"column:severity;not null"`
	FilePath     string                `gorm:"column:file_path;not null"`
	LineNumber   int                   `gorm:"column:line_number;not null"`
	ColumnNumber *int                  `gorm:"column:column_number"`
	Message      string                `gorm:"column:message;not null"`
	SuggestedFix *string               `gorm:"column:suggested_fix"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}
