package warnings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/internal/accounts"
	"github.com/swiftwatch/swiftwatch-backend/internal/audit"
	"github.com/swiftwatch/swiftwatch-backend/internal/metering"
	"github.com/swiftwatch/swiftwatch-backend/internal/subscriptions"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

func setupWarningsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  stripe_customer_id TEXT UNIQUE,
  github_account_id INTEGER UNIQUE,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  external_subscription_id TEXT,
  plan TEXT NOT NULL DEFAULT 'free',
  status TEXT NOT NULL DEFAULT 'active',
  billing_cycle TEXT NOT NULL DEFAULT 'monthly',
  unit_count INTEGER NOT NULL DEFAULT 1,
  on_free_trial INTEGER NOT NULL DEFAULT 0,
  trial_end DATETIME,
  current_period_start DATETIME,
  current_period_end DATETIME NOT NULL,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS usage_limits (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  metric TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  ceiling INTEGER NOT NULL,
  current INTEGER NOT NULL DEFAULT 0 CHECK (ceiling < 0 OR current <= ceiling),
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (subscription_id, metric, period_start)
);`, `
CREATE TABLE IF NOT EXISTS usage_records (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  metric TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  quantity INTEGER NOT NULL,
  recorded_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS warning_runs (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  commit_sha TEXT,
  branch TEXT,
  pull_request INTEGER,
  total_warnings INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS warnings (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL,
  type TEXT NOT NULL,
  severity TEXT NOT NULL,
  file_path TEXT NOT NULL,
  line_number INTEGER NOT NULL DEFAULT 0,
  column_number INTEGER,
  message TEXT NOT NULL,
  suggested_fix TEXT,
  created_at DATETIME
);`}
	for _, stmt := range ddl {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type warningsTxRunner struct {
	db *gorm.DB
}

func (r warningsTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type captureAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *captureAuditor) Record(ctx context.Context, entry audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *captureAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		out = append(out, entry.Action)
	}
	return out
}

type warningsFixture struct {
	conn    *gorm.DB
	service *Service
	auditor *captureAuditor
	now     time.Time
}

func newWarningsFixture(t *testing.T) *warningsFixture {
	t.Helper()
	conn := setupWarningsTestDB(t)
	now := time.Date(2026, time.May, 15, 12, 0, 0, 0, time.UTC)
	runner := warningsTxRunner{db: conn}

	meterSvc, err := metering.NewService(metering.ServiceParams{
		Repo:              metering.NewRepository(conn),
		TransactionRunner: runner,
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)

	subSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(conn),
		AccountRepo:       accounts.NewRepository(conn),
		TransactionRunner: runner,
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)

	auditor := &captureAuditor{}
	service, err := NewService(ServiceParams{
		Repo:              NewRepository(conn),
		Subscriptions:     subSvc,
		Meterer:           meterSvc,
		Auditor:           auditor,
		TransactionRunner: runner,
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)

	return &warningsFixture{conn: conn, service: service, auditor: auditor, now: now}
}

func (f *warningsFixture) createAccount(t *testing.T, plan enums.Plan) uuid.UUID {
	t.Helper()
	account := &models.Account{ID: uuid.New(), Name: "acme"}
	require.NoError(t, accounts.NewRepository(f.conn).Create(context.Background(), account))

	if plan != enums.PlanFree {
		externalID := "sub_" + account.ID.String()[:8]
		sub := &models.Subscription{
			ID:                     uuid.New(),
			AccountID:              account.ID,
			Provider:               enums.BillingProviderStripe,
			ExternalSubscriptionID: &externalID,
			Plan:                   plan,
			Status:                 enums.SubscriptionStatusActive,
			BillingCycle:           enums.BillingCycleMonthly,
			UnitCount:              1,
			CurrentPeriodEnd:       f.now.AddDate(0, 1, 0),
		}
		require.NoError(t, subscriptions.NewRepository(f.conn).Create(context.Background(), sub))
	}
	return account.ID
}

func sampleWarnings(n int) []WarningInput {
	out := make([]WarningInput, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, WarningInput{
			Type:       "actor_isolation",
			Severity:   "high",
			FilePath:   "Sources/App/Feed.swift",
			LineNumber: 10 + i,
			Message:    "main actor-isolated property accessed from nonisolated context",
		})
	}
	return out
}

func TestIngestPersistsRunAndWarnings(t *testing.T) {
	f := newWarningsFixture(t)
	accountID := f.createAccount(t, enums.PlanPro)

	sha := "8f3c2a1"
	branch := "main"
	run, err := f.service.Ingest(context.Background(), accountID, IngestInput{
		CommitSHA: &sha,
		Branch:    &branch,
		Warnings:  sampleWarnings(3),
	})
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 3, run.TotalWarnings)

	detail, err := f.service.GetRun(context.Background(), accountID, run.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Warnings, 3)
	assert.Equal(t, enums.WarningTypeActorIsolation, detail.Warnings[0].Type)
	assert.Contains(t, f.auditor.actions(), "warning_run_ingested")
}

func TestIngestUnknownTypeDegrades(t *testing.T) {
	f := newWarningsFixture(t)
	accountID := f.createAccount(t, enums.PlanPro)

	run, err := f.service.Ingest(context.Background(), accountID, IngestInput{
		Warnings: []WarningInput{{
			Type:       "exotic_new_diagnostic",
			Severity:   "catastrophic",
			FilePath:   "Sources/App/Feed.swift",
			LineNumber: 1,
			Message:    "something new",
		}},
	})
	require.NoError(t, err)

	detail, err := f.service.GetRun(context.Background(), accountID, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Warnings, 1)
	assert.Equal(t, enums.WarningTypeUnknown, detail.Warnings[0].Type)
	assert.Equal(t, enums.WarningSeverityLow, detail.Warnings[0].Severity)
}

func TestIngestDeniedAtCeilingWritesNothing(t *testing.T) {
	f := newWarningsFixture(t)
	// Free plan: 500 warnings per period.
	accountID := f.createAccount(t, enums.PlanFree)

	_, err := f.service.Ingest(context.Background(), accountID, IngestInput{Warnings: sampleWarnings(499)})
	require.NoError(t, err)

	_, err = f.service.Ingest(context.Background(), accountID, IngestInput{Warnings: sampleWarnings(2)})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeLimitExceeded))
	assert.Contains(t, f.auditor.actions(), "warning_run_limit_exceeded")

	var runs int64
	require.NoError(t, f.conn.Model(&models.WarningRun{}).Where("account_id = ?", accountID).Count(&runs).Error)
	assert.Equal(t, int64(1), runs, "denied run must persist nothing")

	// The last unit under the ceiling is still grantable.
	_, err = f.service.Ingest(context.Background(), accountID, IngestInput{Warnings: sampleWarnings(1)})
	require.NoError(t, err)
}

func TestIngestCleanBuildConsumesNoQuota(t *testing.T) {
	f := newWarningsFixture(t)
	accountID := f.createAccount(t, enums.PlanFree)

	run, err := f.service.Ingest(context.Background(), accountID, IngestInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.TotalWarnings)

	var limits int64
	require.NoError(t, f.conn.Model(&models.UsageLimit{}).Count(&limits).Error)
	assert.Equal(t, int64(0), limits)
}

func TestIngestValidation(t *testing.T) {
	f := newWarningsFixture(t)
	accountID := f.createAccount(t, enums.PlanPro)

	_, err := f.service.Ingest(context.Background(), uuid.Nil, IngestInput{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.service.Ingest(context.Background(), accountID, IngestInput{
		Warnings: []WarningInput{{Severity: "high", Message: "no path"}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.service.Ingest(context.Background(), accountID, IngestInput{
		Warnings: []WarningInput{{Severity: "high", FilePath: "a.swift"}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestGetRunScopedToOwner(t *testing.T) {
	f := newWarningsFixture(t)
	owner := f.createAccount(t, enums.PlanPro)
	other := f.createAccount(t, enums.PlanPro)

	run, err := f.service.Ingest(context.Background(), owner, IngestInput{Warnings: sampleWarnings(1)})
	require.NoError(t, err)

	_, err = f.service.GetRun(context.Background(), other, run.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestListRunsNewestFirst(t *testing.T) {
	f := newWarningsFixture(t)
	accountID := f.createAccount(t, enums.PlanPro)

	for i := 0; i < 3; i++ {
		_, err := f.service.Ingest(context.Background(), accountID, IngestInput{Warnings: sampleWarnings(i + 1)})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := f.service.ListRuns(context.Background(), accountID, 2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 3, runs[0].TotalWarnings)
}

func TestSummarizeCountsByTypeAndSeverity(t *testing.T) {
	f := newWarningsFixture(t)
	accountID := f.createAccount(t, enums.PlanPro)

	input := IngestInput{Warnings: []WarningInput{
		{Type: "actor_isolation", Severity: "high", FilePath: "a.swift", LineNumber: 1, Message: "m"},
		{Type: "actor_isolation", Severity: "medium", FilePath: "b.swift", LineNumber: 2, Message: "m"},
		{Type: "data_race", Severity: "critical", FilePath: "c.swift", LineNumber: 3, Message: "m"},
	}}
	_, err := f.service.Ingest(context.Background(), accountID, input)
	require.NoError(t, err)

	summary, err := f.service.Summarize(context.Background(), accountID, f.now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.ByType["actor_isolation"])
	assert.Equal(t, int64(1), summary.ByType["data_race"])
	assert.Equal(t, int64(1), summary.BySeverity["critical"])
	assert.Equal(t, int64(1), summary.BySeverity["high"])
}
