package reconciler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

// githubMarketplaceEvent mirrors the marketplace_purchase webhook body.
type githubMarketplaceEvent struct {
	Action              string                     `json:"action"`
	EffectiveDate       string                     `json:"effective_date"`
	MarketplacePurchase *githubMarketplacePurchase `json:"marketplace_purchase"`
}

type githubMarketplacePurchase struct {
	Account         *githubAccount `json:"account"`
	BillingCycle    string         `json:"billing_cycle"`
	UnitCount       int            `json:"unit_count"`
	OnFreeTrial     bool           `json:"on_free_trial"`
	FreeTrialEndsOn string         `json:"free_trial_ends_on"`
	NextBillingDate string         `json:"next_billing_date"`
	Plan            *githubPlan    `json:"plan"`
}

type githubAccount struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

type githubPlan struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NormalizeGitHub reduces a marketplace_purchase delivery to the
// provider-neutral envelope. The delivery id comes from the
// X-GitHub-Delivery header since the body carries no event id.
func NormalizeGitHub(deliveryID string, payload json.RawMessage) (*NormalizedEvent, error) {
	if deliveryID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}

	var event githubMarketplaceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode marketplace event")
	}

	eventType, err := enums.ParseBillingEventType(event.Action)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported marketplace action")
	}

	purchase := event.MarketplacePurchase
	if purchase == nil || purchase.Account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "marketplace purchase account missing")
	}
	if purchase.Account.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "marketplace account id missing")
	}

	norm := &NormalizedEvent{
		Provider:        enums.BillingProviderMarketplace,
		ExternalEventID: deliveryID,
		Type:            eventType,
		AccountName:     purchase.Account.Login,
		GitHubAccountID: purchase.Account.ID,
		// Marketplace has no subscription object; the buying account is the
		// stable key.
		ExternalSubscriptionID: strconv.FormatInt(purchase.Account.ID, 10),
		UnitCount:              purchase.UnitCount,
		OnFreeTrial:            purchase.OnFreeTrial,
	}
	if norm.UnitCount <= 0 {
		norm.UnitCount = 1
	}

	if purchase.Plan != nil {
		norm.PlanRef = fmt.Sprintf("%d:%s", purchase.Plan.ID, purchase.Plan.Name)
	}

	switch purchase.BillingCycle {
	case "yearly":
		norm.BillingCycle = enums.BillingCycleYearly
	default:
		norm.BillingCycle = enums.BillingCycleMonthly
	}

	occurred, err := parseGitHubDate(event.EffectiveDate)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse effective date")
	}
	norm.OccurredAt = occurred
	if eventType == enums.BillingEventPendingChange || eventType == enums.BillingEventCancelled {
		effective := occurred
		norm.EffectiveAt = &effective
	}

	if purchase.FreeTrialEndsOn != "" {
		trialEnd, err := parseGitHubDate(purchase.FreeTrialEndsOn)
		if err == nil {
			norm.TrialEnd = &trialEnd
		}
	}
	if purchase.NextBillingDate != "" {
		periodEnd, err := parseGitHubDate(purchase.NextBillingDate)
		if err == nil {
			norm.PeriodEnd = &periodEnd
		}
	}

	return norm, nil
}

func parseGitHubDate(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
