package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/internal/accounts"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	accountsDDL := `
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  stripe_customer_id TEXT UNIQUE,
  github_account_id INTEGER UNIQUE,
  created_at DATETIME,
  updated_at DATETIME
);`
	subscriptionsDDL := `
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
);`
	require.NoError(t, conn.Exec(accountsDDL).Error)
	require.NoError(t, conn.Exec(subscriptionsDDL).Error)
	return conn
}

type subsTxRunner struct {
	db *gorm.DB
}

func (r subsTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newSubsService(t *testing.T, conn *gorm.DB) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(conn),
		AccountRepo:       accounts.NewRepository(conn),
		TransactionRunner: subsTxRunner{db: conn},
		Now:               func() time.Time { return time.Date(2026, time.May, 10, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func createAccount(t *testing.T, conn *gorm.DB, stripeID string) *models.Account {
	t.Helper()
	account := &models.Account{ID: uuid.New(), Name: "acme"}
	if stripeID != "" {
		account.StripeCustomerID = &stripeID
	}
	require.NoError(t, conn.Create(account).Error)
	return account
}

func createSubscription(t *testing.T, conn *gorm.DB, accountID uuid.UUID, provider enums.BillingProvider, plan enums.Plan, status enums.SubscriptionStatus) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:               uuid.New(),
		AccountID:        accountID,
		Provider:         provider,
		Plan:             plan,
		Status:           status,
		BillingCycle:     enums.BillingCycleMonthly,
		UnitCount:        1,
		CurrentPeriodEnd: time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, conn.Create(sub).Error)
	return sub
}

func TestEffectivePlanDefaultsToFree(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newSubsService(t, conn)
	account := createAccount(t, conn, "cus_1")

	view, err := svc.EffectivePlan(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanFree, view.Plan)
	assert.Nil(t, view.Provider)
	assert.Contains(t, view.Features, "basic_dashboard")
	assert.NotContains(t, view.Features, "trend_charts")
}

func TestEffectivePlanUsesLiveSubscription(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newSubsService(t, conn)
	account := createAccount(t, conn, "cus_1")
	createSubscription(t, conn, account.ID, enums.BillingProviderStripe, enums.PlanPro, enums.SubscriptionStatusActive)

	view, err := svc.EffectivePlan(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanPro, view.Plan)
	require.NotNil(t, view.Provider)
	assert.Equal(t, enums.BillingProviderStripe, *view.Provider)
	assert.Contains(t, view.Features, "trend_charts")
}

func TestEffectivePlanIgnoresCanceled(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newSubsService(t, conn)
	account := createAccount(t, conn, "cus_1")
	createSubscription(t, conn, account.ID, enums.BillingProviderStripe, enums.PlanPro, enums.SubscriptionStatusCanceled)

	view, err := svc.EffectivePlan(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanFree, view.Plan)
}

func TestEffectivePlanProviderPrecedence(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newSubsService(t, conn)
	account := createAccount(t, conn, "cus_1")
	createSubscription(t, conn, account.ID, enums.BillingProviderMarketplace, enums.PlanEnterprise, enums.SubscriptionStatusActive)
	createSubscription(t, conn, account.ID, enums.BillingProviderStripe, enums.PlanPro, enums.SubscriptionStatusActive)

	view, err := svc.EffectivePlan(context.Background(), account.ID)
	require.NoError(t, err)
	// Stripe wins regardless of which plan is richer.
	assert.Equal(t, enums.PlanPro, view.Plan)
	require.NotNil(t, view.Provider)
	assert.Equal(t, enums.BillingProviderStripe, *view.Provider)
}

func TestEnsureMeteredCreatesFreeRow(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newSubsService(t, conn)
	account := createAccount(t, conn, "cus_1")

	sub, err := svc.EnsureMetered(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanFree, sub.Plan)
	assert.Equal(t, enums.BillingProviderStripe, sub.Provider)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)

	again, err := svc.EnsureMetered(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID, "second call must reuse the row")
}

func TestEnsureMeteredPrefersLiveSubscription(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newSubsService(t, conn)
	account := createAccount(t, conn, "cus_1")
	existing := createSubscription(t, conn, account.ID, enums.BillingProviderStripe, enums.PlanPro, enums.SubscriptionStatusActive)

	sub, err := svc.EnsureMetered(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, sub.ID)
}

func TestEnsureMeteredUnknownAccount(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newSubsService(t, conn)

	_, err := svc.EnsureMetered(context.Background(), uuid.New())
	require.Error(t, err)
}
