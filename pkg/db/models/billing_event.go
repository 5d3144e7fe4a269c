package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// BillingEvent is the append-only log of received webhook deliveries.
// (provider, external_event_id) is the idempotency key: a duplicate delivery
// finds the existing row instead of inserting.
type BillingEvent struct {
	ID              uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.BillingProvider    `gorm:"column:provider;not null;index:ux_billing_events_provider_event,unique,priority:1"`
	ExternalEventID string                   `gorm:"column:external_event_id;not null;index:ux_billing_events_provider_event,unique,priority:2"`
	EventType       string                   `gorm:"column:event_type;not null;index"`
	Payload         json.RawMessage          `gorm:"column:payload;type:jsonb;not null"`
	Status          enums.BillingEventStatus `gorm:"column:status;not null;default:'pending';index"`
	ProcessingError *string                  `gorm:"column:processing_error"`
	ReceivedAt      time.Time                `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt     *time.Time               `gorm:"column:processed_at"`
}
