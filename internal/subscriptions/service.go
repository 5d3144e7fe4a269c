package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/internal/entitlements"
	"github.com/swiftwatch/swiftwatch-backend/internal/metering"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

type accountRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams configures the subscription read service.
type ServiceParams struct {
	Repo              Repository
	AccountRepo       accountRepository
	TransactionRunner txRunner
	Now               func() time.Time
}

// Service resolves the authoritative subscription for an account. When the
// account has live subscriptions from more than one provider, provider
// precedence picks the winner.
type Service struct {
	repo        Repository
	accountRepo accountRepository
	txRunner    txRunner
	now         func() time.Time
}

// NewService validates dependencies and returns a subscription service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.AccountRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:        params.Repo,
		accountRepo: params.AccountRepo,
		txRunner:    params.TransactionRunner,
		now:         now,
	}, nil
}

// PlanView is the effective plan surface exposed to clients.
type PlanView struct {
	Plan         enums.Plan               `json:"plan"`
	Status       enums.SubscriptionStatus `json:"status"`
	Provider     *enums.BillingProvider   `json:"provider,omitempty"`
	BillingCycle *enums.BillingCycle      `json:"billing_cycle,omitempty"`
	OnFreeTrial  bool                     `json:"on_free_trial"`
	PeriodEnd    *time.Time               `json:"current_period_end,omitempty"`
	Features     []string                 `json:"features"`
}

// EffectivePlan resolves the plan the account is entitled to right now.
// Accounts with no live subscription are on the free plan.
func (s *Service) EffectivePlan(ctx context.Context, accountID uuid.UUID) (*PlanView, error) {
	sub, err := s.effectiveSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	view := &PlanView{
		Plan:   enums.PlanFree,
		Status: enums.SubscriptionStatusActive,
	}
	if sub != nil {
		view.Plan = sub.Plan
		view.Status = sub.Status
		view.Provider = &sub.Provider
		view.BillingCycle = &sub.BillingCycle
		view.OnFreeTrial = sub.OnFreeTrial
		end := sub.CurrentPeriodEnd
		view.PeriodEnd = &end
	}
	for _, feature := range []entitlements.Feature{
		entitlements.FeatureBasicDashboard,
		entitlements.FeatureTrendCharts,
		entitlements.FeatureAPIAccess,
		entitlements.FeatureSSO,
		entitlements.FeaturePrioritySupport,
	} {
		if entitlements.SupportsFeature(view.Plan, feature) {
			view.Features = append(view.Features, string(feature))
		}
	}
	return view, nil
}

func (s *Service) effectiveSubscription(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	live, err := s.repo.ListLiveByAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list live subscriptions")
	}
	if len(live) == 0 {
		return nil, nil
	}

	providers := make([]enums.BillingProvider, 0, len(live))
	for _, sub := range live {
		providers = append(providers, sub.Provider)
	}
	winner, ok := entitlements.EffectiveSubscriptionProvider(providers)
	if !ok {
		return &live[0], nil
	}
	for i := range live {
		if live[i].Provider == winner {
			return &live[i], nil
		}
	}
	return &live[0], nil
}

// EnsureMetered returns the subscription usage should be metered against,
// creating a free-plan row for accounts that never purchased. The creation
// races with webhook reconciliation; the partial unique index on live
// (account, provider) rows collapses the race to one winner.
func (s *Service) EnsureMetered(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.effectiveSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}

	provider := enums.BillingProviderStripe
	if account.StripeCustomerID == nil && account.GitHubAccountID != nil {
		provider = enums.BillingProviderMarketplace
	}

	now := s.now()
	created := &models.Subscription{
		ID:               uuid.New(),
		AccountID:        accountID,
		Provider:         provider,
		Plan:             enums.PlanFree,
		Status:           enums.SubscriptionStatusActive,
		BillingCycle:     enums.BillingCycleMonthly,
		UnitCount:        1,
		CurrentPeriodEnd: metering.NextPeriodStart(now),
	}
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, created)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_subscriptions_account_provider_live") {
			existing, findErr := s.repo.FindLiveByAccountProvider(ctx, accountID, provider, false)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load raced subscription")
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create free subscription")
	}
	return created, nil
}
