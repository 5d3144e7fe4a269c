package enums

import "fmt"

// UsageMetric names a billable counter tracked per subscription and period.
type UsageMetric string

const (
	UsageMetricWarnings UsageMetric = "warnings"
	UsageMetricAPICalls UsageMetric = "api_calls"
)

var validUsageMetrics = []UsageMetric{
	UsageMetricWarnings,
	UsageMetricAPICalls,
}

// String implements fmt.Stringer.
func (m UsageMetric) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m UsageMetric) IsValid() bool {
	for _, candidate := range validUsageMetrics {
		if candidate == m {
			return true
		}
	}
	return false
}

// AllUsageMetrics returns every tracked metric.
func AllUsageMetrics() []UsageMetric {
	metrics := make([]UsageMetric, len(validUsageMetrics))
	copy(metrics, validUsageMetrics)
	return metrics
}

// ParseUsageMetric converts raw input into a UsageMetric.
func ParseUsageMetric(value string) (UsageMetric, error) {
	for _, candidate := range validUsageMetrics {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage metric %q", value)
}
