package audit

import (
	"testing"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

func TestScoreEntryDeterministic(t *testing.T) {
	first := ScoreEntry(enums.AuditCategoryBilling, "subscription_cancel", true)
	second := ScoreEntry(enums.AuditCategoryBilling, "subscription_cancel", true)
	if first != second {
		t.Fatalf("expected deterministic score, got %d then %d", first, second)
	}
}

func TestScoreEntryWeighsRiskiestPart(t *testing.T) {
	plain := ScoreEntry(enums.AuditCategoryBilling, "subscription_update", true)
	risky := ScoreEntry(enums.AuditCategoryBilling, "webhook_signature_invalid", true)
	if risky <= plain {
		t.Fatalf("signature failure (%d) should outscore plain update (%d)", risky, plain)
	}
}

func TestScoreEntryFailurePenalty(t *testing.T) {
	ok := ScoreEntry(enums.AuditCategoryAuthentication, "token_parse", true)
	failed := ScoreEntry(enums.AuditCategoryAuthentication, "token_parse", false)
	if failed != ok+failurePenalty {
		t.Fatalf("expected failure to add %d, got %d -> %d", failurePenalty, ok, failed)
	}
}

func TestScoreEntryClampedTo100(t *testing.T) {
	score := ScoreEntry(enums.AuditCategoryAuthentication, "webhook_signature_invalid_replay_delete", false)
	if score > 100 {
		t.Fatalf("score %d exceeds 100", score)
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		score   int
		want    enums.SecuritySeverity
		flagged bool
	}{
		{0, "", false},
		{69, "", false},
		{70, enums.SecuritySeverityMedium, true},
		{79, enums.SecuritySeverityMedium, true},
		{80, enums.SecuritySeverityHigh, true},
		{89, enums.SecuritySeverityHigh, true},
		{90, enums.SecuritySeverityCritical, true},
		{100, enums.SecuritySeverityCritical, true},
	}
	for _, tc := range cases {
		got, flagged := SeverityFor(tc.score)
		if flagged != tc.flagged || got != tc.want {
			t.Fatalf("SeverityFor(%d) = (%s, %v), want (%s, %v)", tc.score, got, flagged, tc.want, tc.flagged)
		}
	}
}
