package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/internal/accounts"
	"github.com/swiftwatch/swiftwatch-backend/internal/audit"
	"github.com/swiftwatch/swiftwatch-backend/internal/events"
	"github.com/swiftwatch/swiftwatch-backend/internal/subscriptions"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
	"github.com/swiftwatch/swiftwatch-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type meterer interface {
	ApplyPlanCeilings(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, plan enums.Plan, at time.Time) error
}

type auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// ServiceParams configures the reconciler.
type ServiceParams struct {
	EventStore        *events.Store
	AccountRepo       accounts.Repository
	SubscriptionRepo  subscriptions.Repository
	Meterer           meterer
	Auditor           auditor
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.WebhookMetrics
	Now               func() time.Time
}

// Service folds unordered, at-least-once webhook deliveries from both
// billing providers into the authoritative subscription per account.
type Service struct {
	eventStore *events.Store
	accounts   accounts.Repository
	subs       subscriptions.Repository
	meterer    meterer
	auditor    auditor
	txRunner   txRunner
	logg       *logger.Logger
	metrics    *metrics.WebhookMetrics
	now        func() time.Time
}

// NewService validates dependencies and returns a reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.EventStore == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event store required")
	}
	if params.AccountRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repo required")
	}
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Meterer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "meterer required")
	}
	if params.Auditor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "auditor required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		eventStore: params.EventStore,
		accounts:   params.AccountRepo,
		subs:       params.SubscriptionRepo,
		meterer:    params.Meterer,
		auditor:    params.Auditor,
		txRunner:   params.TransactionRunner,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        now,
	}, nil
}

// NormalizeStored rebuilds the provider-neutral envelope from a persisted
// event so failed events can be retried from the log alone.
func NormalizeStored(event *models.BillingEvent) (*NormalizedEvent, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing event required")
	}
	switch event.Provider {
	case enums.BillingProviderStripe:
		var stripeEvent stripe.Event
		if err := json.Unmarshal(event.Payload, &stripeEvent); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stored stripe event")
		}
		return NormalizeStripe(&stripeEvent)
	case enums.BillingProviderMarketplace:
		return NormalizeGitHub(event.ExternalEventID, event.Payload)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing provider")
	}
}

// Process applies a recorded event to subscription state and transitions the
// event to processed or failed. Errors are returned after the failure is
// recorded so callers can surface a retryable status to the provider.
func (s *Service) Process(ctx context.Context, event *models.BillingEvent, norm *NormalizedEvent) error {
	if event == nil || norm == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event and normalized envelope required")
	}
	ctx = s.logg.WithProvider(ctx, norm.Provider.String())
	ctx = s.logg.WithEventID(ctx, norm.ExternalEventID)

	started := s.now()
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyTx(ctx, tx, norm)
	})
	s.metrics.ObserveProcessing(norm.Provider.String(), s.now().Sub(started))

	if err != nil {
		s.logg.Error(ctx, "reconcile billing event", err)
		s.metrics.IncFailed(norm.Provider.String(), string(norm.Type))
		if markErr := s.eventStore.MarkFailed(ctx, event, err); markErr != nil {
			s.logg.Error(ctx, "mark billing event failed", markErr)
		}
		s.auditor.Record(ctx, audit.Entry{
			Actor:    "webhook:" + norm.Provider.String(),
			Category: enums.AuditCategoryBilling,
			Action:   "billing_event_" + string(norm.Type),
			Success:  false,
			Metadata: map[string]any{"external_event_id": norm.ExternalEventID, "error": err.Error()},
		})
		return err
	}

	if markErr := s.eventStore.MarkProcessed(ctx, event); markErr != nil {
		return markErr
	}
	s.metrics.IncReceived(norm.Provider.String(), string(norm.Type))
	s.auditor.Record(ctx, audit.Entry{
		Actor:    "webhook:" + norm.Provider.String(),
		Category: enums.AuditCategoryBilling,
		Action:   "billing_event_" + string(norm.Type),
		Success:  true,
		Metadata: map[string]any{"external_event_id": norm.ExternalEventID},
	})
	return nil
}

func (s *Service) applyTx(ctx context.Context, tx *gorm.DB, norm *NormalizedEvent) error {
	accountRepo := s.accounts.WithTx(tx)
	subRepo := s.subs.WithTx(tx)

	account, err := s.resolveAccount(ctx, accountRepo, norm)
	if err != nil {
		return err
	}

	sub, err := subRepo.FindByProviderSubscriptionID(ctx, norm.Provider, norm.ExternalSubscriptionID, true)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		// Absorb the implicit free row the metering path may have created.
		sub, err = subRepo.FindLiveByAccountProvider(ctx, account.ID, norm.Provider, true)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load live subscription")
		}
	}

	if sub == nil {
		return s.createFromEvent(ctx, tx, subRepo, account, norm)
	}
	return s.updateFromEvent(ctx, tx, subRepo, account, sub, norm)
}

func (s *Service) resolveAccount(ctx context.Context, repo accounts.Repository, norm *NormalizedEvent) (*models.Account, error) {
	var (
		account *models.Account
		err     error
	)
	switch norm.Provider {
	case enums.BillingProviderStripe:
		account, err = repo.FindByStripeCustomerID(ctx, norm.StripeCustomerID)
	case enums.BillingProviderMarketplace:
		account, err = repo.FindByGitHubAccountID(ctx, norm.GitHubAccountID)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing provider")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account != nil {
		return account, nil
	}

	// First contact from this provider: provision the account so unordered
	// streams never drop an event on the floor.
	name := norm.AccountName
	if name == "" {
		name = norm.ExternalSubscriptionID
	}
	account = &models.Account{ID: uuid.New(), Name: name}
	switch norm.Provider {
	case enums.BillingProviderStripe:
		customerID := norm.StripeCustomerID
		account.StripeCustomerID = &customerID
	case enums.BillingProviderMarketplace:
		githubID := norm.GitHubAccountID
		account.GitHubAccountID = &githubID
	}
	if err := repo.Create(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return account, nil
}

func (s *Service) createFromEvent(ctx context.Context, tx *gorm.DB, subRepo subscriptions.Repository, account *models.Account, norm *NormalizedEvent) error {
	now := s.now()
	plan := s.resolvePlanOrDegrade(ctx, account, norm, norm.PlanRef)

	externalID := norm.ExternalSubscriptionID
	sub := &models.Subscription{
		ID:                     uuid.New(),
		AccountID:              account.ID,
		Provider:               norm.Provider,
		ExternalSubscriptionID: &externalID,
		Plan:                   plan,
		BillingCycle:           norm.BillingCycle,
		UnitCount:              norm.UnitCount,
		OnFreeTrial:            norm.OnFreeTrial,
		TrialEnd:               norm.TrialEnd,
		CurrentPeriodEnd:       s.periodEndFor(norm),
	}

	meta := &subscriptionMeta{}
	occurred := norm.OccurredAt
	meta.LastEventAt = &occurred

	switch norm.Type {
	case enums.BillingEventPurchased, enums.BillingEventChanged:
		sub.Status = statusFor(norm)
	case enums.BillingEventCancelled:
		// Cancellation arriving before its purchase: keep the record, marked
		// terminal, so the late purchase cannot resurrect a dead subscription.
		if norm.EffectiveAt != nil && norm.EffectiveAt.After(now) {
			sub.Status = statusFor(norm)
			sub.CancelAtPeriodEnd = true
		} else {
			sub.Status = enums.SubscriptionStatusCanceled
			canceledAt := now
			sub.CanceledAt = &canceledAt
		}
	case enums.BillingEventPendingChange:
		sub.Plan = enums.PlanFree
		sub.Status = enums.SubscriptionStatusActive
		meta.PendingChange = s.pendingFromEvent(ctx, account, norm)
	case enums.BillingEventPendingChangeCancelled:
		sub.Plan = enums.PlanFree
		sub.Status = enums.SubscriptionStatusActive
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown billing event type")
	}

	if err := encodeMeta(sub, meta); err != nil {
		return err
	}
	if err := subRepo.Create(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	if sub.Status.IsEntitled() {
		if err := s.meterer.ApplyPlanCeilings(ctx, tx, sub.ID, sub.Plan, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) updateFromEvent(ctx context.Context, tx *gorm.DB, subRepo subscriptions.Repository, account *models.Account, sub *models.Subscription, norm *NormalizedEvent) error {
	now := s.now()
	meta, err := decodeMeta(sub)
	if err != nil {
		return err
	}

	// Deliveries are unordered: anything strictly older than the last applied
	// event is superseded state and must not regress the record. Equal
	// timestamps still apply; exact replays never get here because the event
	// log deduplicates on provider and event id.
	if meta.LastEventAt != nil && norm.OccurredAt.Before(*meta.LastEventAt) {
		s.auditor.Record(ctx, audit.Entry{
			AccountID: &sub.AccountID,
			Actor:     "webhook:" + norm.Provider.String(),
			Category:  enums.AuditCategoryBilling,
			Action:    "billing_event_stale_skipped",
			Success:   true,
			Metadata: map[string]any{
				"external_event_id": norm.ExternalEventID,
				"event_type":        string(norm.Type),
			},
		})
		return nil
	}

	previousPlan := sub.Plan

	if sub.ExternalSubscriptionID == nil && norm.ExternalSubscriptionID != "" {
		externalID := norm.ExternalSubscriptionID
		sub.ExternalSubscriptionID = &externalID
	}

	switch norm.Type {
	case enums.BillingEventPurchased, enums.BillingEventChanged:
		sub.Plan = s.resolvePlanOrDegrade(ctx, account, norm, norm.PlanRef)
		sub.BillingCycle = norm.BillingCycle
		sub.UnitCount = norm.UnitCount
		sub.OnFreeTrial = norm.OnFreeTrial
		sub.TrialEnd = norm.TrialEnd
		sub.Status = statusFor(norm)
		sub.CancelAtPeriodEnd = false
		sub.CanceledAt = nil
	case enums.BillingEventCancelled:
		if norm.EffectiveAt != nil && norm.EffectiveAt.After(now) {
			// Canceled at the period boundary: the customer stays entitled
			// until then, so the cancellation timestamp is stamped at finalize.
			sub.CancelAtPeriodEnd = true
		} else {
			sub.Status = enums.SubscriptionStatusCanceled
			canceledAt := now
			sub.CanceledAt = &canceledAt
		}
		meta.PendingChange = nil
	case enums.BillingEventPendingChange:
		meta.PendingChange = s.pendingFromEvent(ctx, account, norm)
	case enums.BillingEventPendingChangeCancelled:
		meta.PendingChange = nil
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown billing event type")
	}

	// Period end only moves forward; a late event cannot shrink entitlement
	// the customer already paid for.
	if end := s.periodEndFor(norm); end.After(sub.CurrentPeriodEnd) {
		sub.CurrentPeriodEnd = end
	}

	occurred := norm.OccurredAt
	meta.LastEventAt = &occurred
	if err := encodeMeta(sub, meta); err != nil {
		return err
	}
	if err := subRepo.Update(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
	}

	if sub.Plan != previousPlan {
		if err := s.meterer.ApplyPlanCeilings(ctx, tx, sub.ID, sub.Plan, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) pendingFromEvent(ctx context.Context, account *models.Account, norm *NormalizedEvent) *pendingChange {
	plan := s.resolvePlanOrDegrade(ctx, account, norm, norm.PlanRef)
	return &pendingChange{
		PlanRef:      norm.PlanRef,
		Plan:         plan,
		BillingCycle: norm.BillingCycle,
		UnitCount:    norm.UnitCount,
		EffectiveAt:  norm.EffectiveAt,
	}
}

// resolvePlanOrDegrade fails open to free on unknown plan references and
// leaves a configuration audit trail for the operator to fix the mapping.
func (s *Service) resolvePlanOrDegrade(ctx context.Context, account *models.Account, norm *NormalizedEvent, ref string) enums.Plan {
	plan, ok := ResolvePlan(norm.Provider, ref)
	if !ok {
		s.auditor.Record(ctx, audit.Entry{
			AccountID: &account.ID,
			Actor:     "webhook:" + norm.Provider.String(),
			Category:  enums.AuditCategoryConfiguration,
			Action:    "unknown_plan_ref",
			Success:   false,
			Metadata: map[string]any{
				"plan_ref":          ref,
				"external_event_id": norm.ExternalEventID,
			},
		})
	}
	return plan
}

func (s *Service) periodEndFor(norm *NormalizedEvent) time.Time {
	if norm.PeriodEnd != nil {
		return norm.PeriodEnd.UTC()
	}
	// Providers occasionally omit the period end; infer a conservative one
	// from the billing cycle.
	base := norm.OccurredAt
	if base.IsZero() {
		base = s.now()
	}
	if norm.BillingCycle == enums.BillingCycleYearly {
		return base.AddDate(1, 0, 0)
	}
	return base.AddDate(0, 1, 0)
}

func statusFor(norm *NormalizedEvent) enums.SubscriptionStatus {
	if norm.OnFreeTrial {
		return enums.SubscriptionStatusTrialing
	}
	return enums.SubscriptionStatusActive
}

// PromoteDuePendingChanges applies parked plan moves whose effective date has
// passed. Safe to run repeatedly; promotion clears the parked change.
func (s *Service) PromoteDuePendingChanges(ctx context.Context, asOf time.Time, limit int) (int, error) {
	live, err := s.subs.ListLive(ctx, limit, 0)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list live subscriptions")
	}

	promoted := 0
	for i := range live {
		sub := &live[i]
		meta, err := decodeMeta(sub)
		if err != nil {
			s.logg.Error(ctx, "decode subscription metadata", err)
			continue
		}
		pending := meta.PendingChange
		if pending == nil || (pending.EffectiveAt != nil && pending.EffectiveAt.After(asOf)) {
			continue
		}

		err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			subRepo := s.subs.WithTx(tx)
			locked, err := subRepo.FindByID(ctx, sub.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
			}
			if locked == nil {
				return nil
			}
			lockedMeta, err := decodeMeta(locked)
			if err != nil {
				return err
			}
			if lockedMeta.PendingChange == nil {
				return nil
			}
			change := lockedMeta.PendingChange
			previousPlan := locked.Plan
			locked.Plan = change.Plan
			locked.BillingCycle = change.BillingCycle
			if change.UnitCount > 0 {
				locked.UnitCount = change.UnitCount
			}
			lockedMeta.PendingChange = nil
			if err := encodeMeta(locked, lockedMeta); err != nil {
				return err
			}
			if err := subRepo.Update(ctx, locked); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote pending change")
			}
			if locked.Plan != previousPlan {
				if err := s.meterer.ApplyPlanCeilings(ctx, tx, locked.ID, locked.Plan, asOf); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.logg.Error(ctx, "promote pending change", err)
			continue
		}
		promoted++
		s.auditor.Record(ctx, audit.Entry{
			AccountID: &sub.AccountID,
			Actor:     "worker:pending-changes",
			Category:  enums.AuditCategoryBilling,
			Action:    "pending_change_promoted",
			Success:   true,
			Metadata:  map[string]any{"subscription_id": sub.ID.String()},
		})
	}
	return promoted, nil
}

// FinalizeExpiredCancellations flips subscriptions whose cancel-at-period-end
// boundary has passed to canceled.
func (s *Service) FinalizeExpiredCancellations(ctx context.Context, asOf time.Time, limit int) (int, error) {
	expired, err := s.subs.ListExpiredCancellations(ctx, asOf, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired cancellations")
	}

	finalized := 0
	for i := range expired {
		sub := &expired[i]
		err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			subRepo := s.subs.WithTx(tx)
			locked, err := subRepo.FindByID(ctx, sub.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
			}
			if locked == nil || !locked.CancelAtPeriodEnd || locked.Status == enums.SubscriptionStatusCanceled {
				return nil
			}
			locked.Status = enums.SubscriptionStatusCanceled
			if locked.CanceledAt == nil {
				canceledAt := asOf
				locked.CanceledAt = &canceledAt
			}
			return subRepo.Update(ctx, locked)
		})
		if err != nil {
			s.logg.Error(ctx, "finalize cancellation", err)
			continue
		}
		finalized++
	}
	return finalized, nil
}
