package reconciler

import (
	"strings"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// stripePricePlans maps Stripe price ids to plans. Prices are created in the
// Stripe dashboard, so an unmapped id means drift between the dashboard and
// this table and fails open to free.
var stripePricePlans = map[string]enums.Plan{
	"price_pro_monthly":        enums.PlanPro,
	"price_pro_yearly":         enums.PlanPro,
	"price_enterprise_monthly": enums.PlanEnterprise,
	"price_enterprise_yearly":  enums.PlanEnterprise,
}

// ResolvePlan maps a provider plan reference to an internal plan. The
// boolean is false when the reference is unknown, in which case the caller
// degrades the subscription to free rather than guessing upward.
func ResolvePlan(provider enums.BillingProvider, ref string) (enums.Plan, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return enums.PlanFree, false
	}

	switch provider {
	case enums.BillingProviderStripe:
		if plan, ok := stripePricePlans[ref]; ok {
			return plan, true
		}
	case enums.BillingProviderMarketplace:
		// Marketplace refs are "<listing plan id>:<name>"; the name is the
		// stable contract since listing ids differ between environments.
		name := ref
		if idx := strings.IndexByte(ref, ':'); idx >= 0 {
			name = ref[idx+1:]
		}
		if plan, err := enums.ParsePlan(strings.ToLower(strings.TrimSpace(name))); err == nil {
			return plan, true
		}
	}
	return enums.PlanFree, false
}
