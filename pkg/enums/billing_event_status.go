package enums

import "fmt"

// BillingEventStatus tracks processing progress for a stored webhook event.
type BillingEventStatus string

const (
	BillingEventStatusPending   BillingEventStatus = "pending"
	BillingEventStatusProcessed BillingEventStatus = "processed"
	BillingEventStatusFailed    BillingEventStatus = "failed"
)

var validBillingEventStatuses = []BillingEventStatus{
	BillingEventStatusPending,
	BillingEventStatusProcessed,
	BillingEventStatusFailed,
}

// String implements fmt.Stringer.
func (s BillingEventStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s BillingEventStatus) IsValid() bool {
	for _, candidate := range validBillingEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
// Failed events stay retryable; processed is final.
func (s BillingEventStatus) IsTerminal() bool {
	return s == BillingEventStatusProcessed
}

// ParseBillingEventStatus converts raw input into a BillingEventStatus.
func ParseBillingEventStatus(value string) (BillingEventStatus, error) {
	for _, candidate := range validBillingEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing event status %q", value)
}
