package reconciler

import (
	"encoding/json"
	"time"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

// NormalizedEvent is the provider-neutral shape every webhook payload is
// reduced to before it touches subscription state.
type NormalizedEvent struct {
	Provider               enums.BillingProvider
	ExternalEventID        string
	Type                   enums.BillingEventType
	OccurredAt             time.Time
	AccountName            string
	StripeCustomerID       string
	GitHubAccountID        int64
	ExternalSubscriptionID string
	PlanRef                string
	BillingCycle           enums.BillingCycle
	UnitCount              int
	OnFreeTrial            bool
	TrialEnd               *time.Time
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      bool
	EffectiveAt            *time.Time
}

// pendingChange is a scheduled plan move parked in subscription metadata
// until its effective date. It never mutates live plan fields.
type pendingChange struct {
	PlanRef      string             `json:"plan_ref"`
	Plan         enums.Plan         `json:"plan"`
	BillingCycle enums.BillingCycle `json:"billing_cycle"`
	UnitCount    int                `json:"unit_count"`
	EffectiveAt  *time.Time         `json:"effective_at,omitempty"`
}

// subscriptionMeta is the reconciler-owned metadata document. LastEventAt
// orders unordered deliveries: anything older than it is stale.
type subscriptionMeta struct {
	LastEventAt   *time.Time     `json:"last_event_at,omitempty"`
	PendingChange *pendingChange `json:"pending_change,omitempty"`
}

func decodeMeta(sub *models.Subscription) (*subscriptionMeta, error) {
	meta := &subscriptionMeta{}
	if len(sub.Metadata) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(sub.Metadata, meta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode subscription metadata")
	}
	return meta, nil
}

func encodeMeta(sub *models.Subscription, meta *subscriptionMeta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode subscription metadata")
	}
	sub.Metadata = encoded
	return nil
}
