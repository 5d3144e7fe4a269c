package enums

import "fmt"

// AuditCategory groups audit entries for review and risk weighting.
type AuditCategory string

const (
	AuditCategoryBilling        AuditCategory = "billing"
	AuditCategoryAuthentication AuditCategory = "authentication"
	AuditCategoryConfiguration  AuditCategory = "configuration"
	AuditCategoryUsage          AuditCategory = "usage"
	AuditCategoryDataAccess     AuditCategory = "data_access"
)

var validAuditCategories = []AuditCategory{
	AuditCategoryBilling,
	AuditCategoryAuthentication,
	AuditCategoryConfiguration,
	AuditCategoryUsage,
	AuditCategoryDataAccess,
}

// String implements fmt.Stringer.
func (c AuditCategory) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c AuditCategory) IsValid() bool {
	for _, candidate := range validAuditCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseAuditCategory converts raw input into an AuditCategory.
func ParseAuditCategory(value string) (AuditCategory, error) {
	for _, candidate := range validAuditCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit category %q", value)
}
