package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/internal/entitlements"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams configures the metering service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Metrics           *metrics.MeteringMetrics
	Now               func() time.Time
}

// Service enforces per-plan usage ceilings. Every grant commits a counter
// bump and a ledger row in the same transaction, so the cached counter and
// the ledger can never drift.
type Service struct {
	repo     Repository
	txRunner txRunner
	metrics  *metrics.MeteringMetrics
	now      func() time.Time
}

// NewService validates dependencies and returns a metering service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "metering repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     params.Repo,
		txRunner: params.TransactionRunner,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// CheckAndIncrement grants quantity units of the metric to the subscription,
// or denies with USAGE_LIMIT_EXCEEDED if the grant would cross the ceiling.
// The grant is all-or-nothing: a denial writes no ledger row and leaves the
// counter untouched.
func (s *Service) CheckAndIncrement(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric, quantity int64) (*models.UsageLimit, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	if !metric.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage metric is invalid")
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	s.metrics.IncCheck(metric.String())
	periodStart := PeriodStart(s.now())

	var granted *models.UsageLimit
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		ok, err := repo.TryIncrement(ctx, sub.ID, metric, periodStart, quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment usage counter")
		}
		if !ok {
			// First use in the period: seed the row and retry once. A
			// concurrent seeder is fine, the unique index collapses the race.
			if err := s.ensureLimit(ctx, repo, sub, metric, periodStart); err != nil {
				return err
			}
			ok, err = repo.TryIncrement(ctx, sub.ID, metric, periodStart, quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment usage counter")
			}
		}
		if !ok {
			limit, findErr := repo.FindLimit(ctx, sub.ID, metric, periodStart)
			if findErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load usage limit")
			}
			details := map[string]any{"metric": metric.String(), "requested": quantity}
			if limit != nil {
				details["ceiling"] = limit.Ceiling
				details["current"] = limit.Current
			}
			return pkgerrors.New(pkgerrors.CodeLimitExceeded, "usage ceiling reached for period").WithDetails(details)
		}

		record := &models.UsageRecord{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			Metric:         metric,
			PeriodStart:    periodStart,
			Quantity:       quantity,
			RecordedAt:     s.now(),
		}
		if err := repo.CreateRecord(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append usage record")
		}

		limit, err := repo.FindLimit(ctx, sub.ID, metric, periodStart)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage limit")
		}
		granted = limit
		return nil
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeLimitExceeded) {
			s.metrics.IncDenied(metric.String())
		}
		return nil, err
	}
	return granted, nil
}

func (s *Service) ensureLimit(ctx context.Context, repo Repository, sub *models.Subscription, metric enums.UsageMetric, periodStart time.Time) error {
	limit := &models.UsageLimit{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Metric:         metric,
		PeriodStart:    periodStart,
		Ceiling:        entitlements.LimitFor(sub.Plan, metric),
	}
	if err := repo.CreateLimit(ctx, limit); err != nil && !db.IsUniqueViolation(err, "ux_usage_limits_sub_metric_period") {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed usage limit")
	}
	return nil
}

// Usage returns the current-period counters for every known metric. Metrics
// the subscription has not touched yet report zero against the plan ceiling.
func (s *Service) Usage(ctx context.Context, sub *models.Subscription) ([]models.UsageLimit, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	periodStart := PeriodStart(s.now())
	stored, err := s.repo.ListLimits(ctx, sub.ID, periodStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list usage limits")
	}

	byMetric := make(map[enums.UsageMetric]models.UsageLimit, len(stored))
	for _, limit := range stored {
		byMetric[limit.Metric] = limit
	}

	out := make([]models.UsageLimit, 0, len(enums.AllUsageMetrics()))
	for _, metric := range enums.AllUsageMetrics() {
		if limit, ok := byMetric[metric]; ok {
			out = append(out, limit)
			continue
		}
		out = append(out, models.UsageLimit{
			SubscriptionID: sub.ID,
			Metric:         metric,
			PeriodStart:    periodStart,
			Ceiling:        entitlements.LimitFor(sub.Plan, metric),
			Current:        0,
		})
	}
	return out, nil
}

// ApplyPlanCeilings re-ceilings the current period after a plan change. Rows
// that do not exist yet are left for first use, which seeds them from the new
// plan anyway.
func (s *Service) ApplyPlanCeilings(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, plan enums.Plan, at time.Time) error {
	repo := s.repo.WithTx(tx)
	periodStart := PeriodStart(at)
	for _, metric := range enums.AllUsageMetrics() {
		ceiling := entitlements.LimitFor(plan, metric)
		if err := repo.UpdateCeiling(ctx, subscriptionID, metric, periodStart, ceiling); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply plan ceiling")
		}
	}
	return nil
}

// SeedPeriod creates zeroed counters for the period containing at. Replays
// are no-ops, so the monthly reset job can run more than once per boundary.
func (s *Service) SeedPeriod(ctx context.Context, sub *models.Subscription, at time.Time) error {
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	periodStart := PeriodStart(at)
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, metric := range enums.AllUsageMetrics() {
			limit := &models.UsageLimit{
				ID:             uuid.New(),
				SubscriptionID: sub.ID,
				Metric:         metric,
				PeriodStart:    periodStart,
				Ceiling:        entitlements.LimitFor(sub.Plan, metric),
			}
			if err := repo.CreateLimit(ctx, limit); err != nil && !db.IsUniqueViolation(err, "ux_usage_limits_sub_metric_period") {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed period limit")
			}
		}
		return nil
	})
}
