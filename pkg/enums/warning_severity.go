package enums

// WarningSeverity ranks how urgent a concurrency warning is.
type WarningSeverity string

const (
	WarningSeverityCritical WarningSeverity = "critical"
	WarningSeverityHigh     WarningSeverity = "high"
	WarningSeverityMedium   WarningSeverity = "medium"
	WarningSeverityLow      WarningSeverity = "low"
)

var validWarningSeverities = []WarningSeverity{
	WarningSeverityCritical,
	WarningSeverityHigh,
	WarningSeverityMedium,
	WarningSeverityLow,
}

// String implements fmt.Stringer.
func (s WarningSeverity) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s WarningSeverity) IsValid() bool {
	for _, candidate := range validWarningSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWarningSeverity converts raw input into a WarningSeverity, defaulting
// to low for unrecognized values.
func ParseWarningSeverity(value string) WarningSeverity {
	for _, candidate := range validWarningSeverities {
		if string(candidate) == value {
			return candidate
		}
	}
	return WarningSeverityLow
}
