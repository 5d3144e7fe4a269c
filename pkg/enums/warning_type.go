package enums

// WarningType classifies a Swift concurrency diagnostic.
type WarningType string

const (
	WarningTypeActorIsolation        WarningType = "actor_isolation"
	WarningTypeSendableConformance   WarningType = "sendable_conformance"
	WarningTypeDataRace              WarningType = "data_race"
	WarningTypePerformanceRegression WarningType = "performance_regression"
	WarningTypeUnknown               WarningType = "unknown"
)

var validWarningTypes = []WarningType{
	WarningTypeActorIsolation,
	WarningTypeSendableConformance,
	WarningTypeDataRace,
	WarningTypePerformanceRegression,
	WarningTypeUnknown,
}

// String implements fmt.Stringer.
func (t WarningType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t WarningType) IsValid() bool {
	for _, candidate := range validWarningTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseWarningType converts raw input into a WarningType. Unrecognized values
// degrade to WarningTypeUnknown rather than erroring so older parser versions
// can keep uploading.
func ParseWarningType(value string) WarningType {
	for _, candidate := range validWarningTypes {
		if string(candidate) == value {
			return candidate
		}
	}
	return WarningTypeUnknown
}
