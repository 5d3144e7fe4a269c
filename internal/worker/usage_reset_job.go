package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

const usageResetPageSize = 200

type liveSubscriptionSource interface {
	ListLive(ctx context.Context, limit, offset int) ([]models.Subscription, error)
}

type periodSeeder interface {
	SeedPeriod(ctx context.Context, sub *models.Subscription, at time.Time) error
}

// UsageResetJobParams configure the monthly usage seed job.
type UsageResetJobParams struct {
	Logger        *logger.Logger
	Subscriptions liveSubscriptionSource
	Seeder        periodSeeder
	Now           func() time.Time
}

// NewUsageResetJob builds the job that seeds fresh usage counters for every
// live subscription at the start of a calendar month. Seeding is idempotent,
// so running every cycle is safe; counters for a new period start at zero
// the moment the month rolls over.
func NewUsageResetJob(params UsageResetJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription source required")
	}
	if params.Seeder == nil {
		return nil, fmt.Errorf("period seeder required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &usageResetJob{
		logg:   params.Logger,
		subs:   params.Subscriptions,
		seeder: params.Seeder,
		now:    now,
	}, nil
}

type usageResetJob struct {
	logg   *logger.Logger
	subs   liveSubscriptionSource
	seeder periodSeeder
	now    func() time.Time
}

func (j *usageResetJob) Name() string { return "usage-period-seed" }

func (j *usageResetJob) Run(ctx context.Context) error {
	at := j.now()
	var seeded int
	var errs error

	for offset := 0; ; offset += usageResetPageSize {
		page, err := j.subs.ListLive(ctx, usageResetPageSize, offset)
		if err != nil {
			return fmt.Errorf("list live subscriptions: %w", err)
		}
		for i := range page {
			if err := j.seeder.SeedPeriod(ctx, &page[i], at); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("seed subscription %s: %w", page[i].ID, err))
				continue
			}
			seeded++
		}
		if len(page) < usageResetPageSize {
			break
		}
	}

	logCtx := j.logg.WithField(ctx, "seeded", seeded)
	j.logg.Info(logCtx, "usage period seed cycle complete")
	return errs
}
