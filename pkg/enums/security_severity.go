package enums

import "fmt"

// SecuritySeverity bands derived from an audit entry's risk score.
type SecuritySeverity string

const (
	SecuritySeverityMedium   SecuritySeverity = "medium"
	SecuritySeverityHigh     SecuritySeverity = "high"
	SecuritySeverityCritical SecuritySeverity = "critical"
)

var validSecuritySeverities = []SecuritySeverity{
	SecuritySeverityMedium,
	SecuritySeverityHigh,
	SecuritySeverityCritical,
}

// String implements fmt.Stringer.
func (s SecuritySeverity) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SecuritySeverity) IsValid() bool {
	for _, candidate := range validSecuritySeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSecuritySeverity converts raw input into a SecuritySeverity.
func ParseSecuritySeverity(value string) (SecuritySeverity, error) {
	for _, candidate := range validSecuritySeverities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid security severity %q", value)
}
