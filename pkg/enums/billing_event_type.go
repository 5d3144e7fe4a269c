package enums

import "fmt"

// BillingEventType is the normalized event vocabulary shared by both
// providers after provider-specific parsing.
type BillingEventType string

const (
	BillingEventPurchased              BillingEventType = "purchased"
	BillingEventChanged                BillingEventType = "changed"
	BillingEventCancelled              BillingEventType = "cancelled"
	BillingEventPendingChange          BillingEventType = "pending_change"
	BillingEventPendingChangeCancelled BillingEventType = "pending_change_cancelled"
)

var validBillingEventTypes = []BillingEventType{
	BillingEventPurchased,
	BillingEventChanged,
	BillingEventCancelled,
	BillingEventPendingChange,
	BillingEventPendingChangeCancelled,
}

// String implements fmt.Stringer.
func (t BillingEventType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t BillingEventType) IsValid() bool {
	for _, candidate := range validBillingEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseBillingEventType converts raw input into a BillingEventType.
func ParseBillingEventType(value string) (BillingEventType, error) {
	for _, candidate := range validBillingEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing event type %q", value)
}
