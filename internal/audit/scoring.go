package audit

import (
	"strings"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// Severity thresholds. An entry at or above ThresholdReview also raises a
// SecurityEvent.
const (
	ThresholdReview   = 70
	ThresholdHigh     = 80
	ThresholdCritical = 90
)

var categoryBase = map[enums.AuditCategory]int{
	enums.AuditCategoryBilling:        30,
	enums.AuditCategoryAuthentication: 40,
	enums.AuditCategoryConfiguration:  35,
	enums.AuditCategoryUsage:          10,
	enums.AuditCategoryDataAccess:     25,
}

// actionWeights is keyed by substring of the action name. The highest
// matching weight wins, so compound actions score by their riskiest part.
var actionWeights = map[string]int{
	"signature_invalid": 55,
	"unknown_plan":      50,
	"replay":            40,
	"delete":            40,
	"cancel":            30,
	"downgrade":         30,
	"limit_exceeded":    25,
	"rate_limited":      25,
	"retry":             10,
}

const failurePenalty = 20

// ScoreEntry derives a 0-100 risk score from the category, the action name
// and the outcome. Scoring is deterministic so replayed events band the same.
func ScoreEntry(category enums.AuditCategory, action string, success bool) int {
	score := categoryBase[category]

	action = strings.ToLower(action)
	best := 0
	for needle, weight := range actionWeights {
		if weight > best && strings.Contains(action, needle) {
			best = weight
		}
	}
	score += best

	if !success {
		score += failurePenalty
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// SeverityFor bands a risk score. The boolean is false below the review
// threshold, meaning no SecurityEvent is raised.
func SeverityFor(score int) (enums.SecuritySeverity, bool) {
	switch {
	case score >= ThresholdCritical:
		return enums.SecuritySeverityCritical, true
	case score >= ThresholdHigh:
		return enums.SecuritySeverityHigh, true
	case score >= ThresholdReview:
		return enums.SecuritySeverityMedium, true
	default:
		return "", false
	}
}
