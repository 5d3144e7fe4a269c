// Package entitlements maps plans to the features and usage ceilings they
// grant. The tables are static: plan changes take effect through the billing
// reconciler, never by editing entitlements at runtime.
package entitlements

import (
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Feature names a gated product capability.
type Feature string

const (
	FeatureBasicDashboard  Feature = "basic_dashboard"
	FeatureTrendCharts     Feature = "trend_charts"
	FeatureAPIAccess       Feature = "api_access"
	FeatureSSO             Feature = "sso"
	FeaturePrioritySupport Feature = "priority_support"
)

// Unlimited marks a metric with no ceiling on the plan.
const Unlimited int64 = -1

var planFeatures = map[enums.Plan]map[Feature]bool{
	enums.PlanFree: {
		FeatureBasicDashboard: true,
	},
	enums.PlanPro: {
		FeatureBasicDashboard: true,
		FeatureTrendCharts:    true,
		FeatureAPIAccess:      true,
	},
	enums.PlanEnterprise: {
		FeatureBasicDashboard:  true,
		FeatureTrendCharts:     true,
		FeatureAPIAccess:       true,
		FeatureSSO:             true,
		FeaturePrioritySupport: true,
	},
}

var planLimits = map[enums.Plan]map[enums.UsageMetric]int64{
	enums.PlanFree: {
		enums.UsageMetricWarnings: 500,
		enums.UsageMetricAPICalls: 1_000,
	},
	enums.PlanPro: {
		enums.UsageMetricWarnings: 25_000,
		enums.UsageMetricAPICalls: 100_000,
	},
	enums.PlanEnterprise: {
		enums.UsageMetricWarnings: Unlimited,
		enums.UsageMetricAPICalls: Unlimited,
	},
}

// SupportsFeature reports whether the plan grants the feature. Unknown plans
// grant nothing.
func SupportsFeature(plan enums.Plan, feature Feature) bool {
	features, ok := planFeatures[plan]
	if !ok {
		return false
	}
	return features[feature]
}

// LimitFor returns the per-period ceiling for the metric on the plan, or
// Unlimited. Unknown plans fall back to the free ceilings so a misconfigured
// subscription degrades service instead of widening it.
func LimitFor(plan enums.Plan, metric enums.UsageMetric) int64 {
	limits, ok := planLimits[plan]
	if !ok {
		limits = planLimits[enums.PlanFree]
	}
	limit, ok := limits[metric]
	if !ok {
		return 0
	}
	return limit
}

// ProviderPrecedence orders billing providers for conflict resolution when an
// account carries live subscriptions from more than one provider. Earlier
// entries win.
var ProviderPrecedence = []enums.BillingProvider{
	enums.BillingProviderStripe,
	enums.BillingProviderMarketplace,
}

// EffectiveSubscriptionProvider picks the winning provider among those with a
// live subscription for the account.
func EffectiveSubscriptionProvider(live []enums.BillingProvider) (enums.BillingProvider, bool) {
	for _, candidate := range ProviderPrecedence {
		for _, provider := range live {
			if provider == candidate {
				return candidate, true
			}
		}
	}
	return "", false
}
