package reconciler

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

// stripeSubscriptionPayload is the slice of the subscription object the
// reconciler needs, decoded from the raw event body so field moves in the
// SDK's typed structs cannot break normalization.
type stripeSubscriptionPayload struct {
	ID                string            `json:"id"`
	Customer          stripeRef         `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CanceledAt        int64             `json:"canceled_at"`
	TrialEnd          int64             `json:"trial_end"`
	PendingUpdate     *json.RawMessage  `json:"pending_update"`
	Items             stripeItemList    `json:"items"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeItemList struct {
	Data []stripeItem `json:"data"`
}

type stripeItem struct {
	Quantity         int64       `json:"quantity"`
	CurrentPeriodEnd int64       `json:"current_period_end"`
	Price            stripePrice `json:"price"`
}

type stripePrice struct {
	ID        string `json:"id"`
	Recurring struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

// stripeRef decodes a field that Stripe serializes either as a bare id or as
// an expanded object.
type stripeRef struct {
	ID string
}

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

// NormalizeStripe reduces a verified Stripe event to the provider-neutral
// envelope. Events the reconciler does not care about return (nil, nil).
func NormalizeStripe(event *stripe.Event) (*NormalizedEvent, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	var eventType enums.BillingEventType
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated:
		eventType = enums.BillingEventPurchased
	case stripe.EventTypeCustomerSubscriptionUpdated:
		eventType = enums.BillingEventChanged
	case stripe.EventTypeCustomerSubscriptionDeleted:
		eventType = enums.BillingEventCancelled
	case stripe.EventTypeCustomerSubscriptionPendingUpdateApplied:
		eventType = enums.BillingEventChanged
	case stripe.EventTypeCustomerSubscriptionPendingUpdateExpired:
		eventType = enums.BillingEventPendingChangeCancelled
	default:
		return nil, nil
	}

	var sub stripeSubscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe subscription")
	}
	if sub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe subscription id missing")
	}
	if sub.Customer.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe customer id missing")
	}

	// An update that only schedules a future change is a pending change, not
	// a live one. An update that schedules end-of-period cancellation is a
	// cancellation effective at the period boundary.
	if event.Type == stripe.EventTypeCustomerSubscriptionUpdated {
		if sub.CancelAtPeriodEnd {
			eventType = enums.BillingEventCancelled
		} else if sub.PendingUpdate != nil {
			eventType = enums.BillingEventPendingChange
		}
	}

	norm := &NormalizedEvent{
		Provider:               enums.BillingProviderStripe,
		ExternalEventID:        event.ID,
		Type:                   eventType,
		OccurredAt:             time.Unix(event.Created, 0).UTC(),
		StripeCustomerID:       sub.Customer.ID,
		ExternalSubscriptionID: sub.ID,
		UnitCount:              1,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}

	if name, ok := sub.Metadata["account_name"]; ok {
		norm.AccountName = name
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		norm.TrialEnd = &trialEnd
		norm.OnFreeTrial = sub.Status == string(stripe.SubscriptionStatusTrialing)
	}

	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		norm.PlanRef = item.Price.ID
		if item.Quantity > 0 {
			norm.UnitCount = int(item.Quantity)
		}
		if item.CurrentPeriodEnd > 0 {
			periodEnd := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			norm.PeriodEnd = &periodEnd
			if eventType == enums.BillingEventCancelled && sub.CancelAtPeriodEnd {
				norm.EffectiveAt = &periodEnd
			}
		}
		if item.Price.Recurring.Interval == "year" {
			norm.BillingCycle = enums.BillingCycleYearly
		} else {
			norm.BillingCycle = enums.BillingCycleMonthly
		}
	} else {
		norm.BillingCycle = enums.BillingCycleMonthly
	}

	return norm, nil
}
