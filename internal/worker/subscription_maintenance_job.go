package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

const defaultMaintenanceBatch = 500

type pendingChangePromoter interface {
	PromoteDuePendingChanges(ctx context.Context, asOf time.Time, limit int) (int, error)
}

type cancellationFinalizer interface {
	FinalizeExpiredCancellations(ctx context.Context, asOf time.Time, limit int) (int, error)
}

// SubscriptionMaintenanceJobParams configure the subscription maintenance job.
type SubscriptionMaintenanceJobParams struct {
	Logger    *logger.Logger
	Promoter  pendingChangePromoter
	Finalizer cancellationFinalizer
	Batch     int
	Now       func() time.Time
}

// NewSubscriptionMaintenanceJob builds the job that applies due pending plan
// changes and flips expired cancel-at-period-end subscriptions to canceled.
func NewSubscriptionMaintenanceJob(params SubscriptionMaintenanceJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Promoter == nil {
		return nil, fmt.Errorf("promoter required")
	}
	if params.Finalizer == nil {
		return nil, fmt.Errorf("finalizer required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultMaintenanceBatch
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &subscriptionMaintenanceJob{
		logg:      params.Logger,
		promoter:  params.Promoter,
		finalizer: params.Finalizer,
		batch:     batch,
		now:       now,
	}, nil
}

type subscriptionMaintenanceJob struct {
	logg      *logger.Logger
	promoter  pendingChangePromoter
	finalizer cancellationFinalizer
	batch     int
	now       func() time.Time
}

func (j *subscriptionMaintenanceJob) Name() string { return "subscription-maintenance" }

func (j *subscriptionMaintenanceJob) Run(ctx context.Context) error {
	asOf := j.now()

	promoted, err := j.promoter.PromoteDuePendingChanges(ctx, asOf, j.batch)
	if err != nil {
		return fmt.Errorf("promote pending changes: %w", err)
	}
	finalized, err := j.finalizer.FinalizeExpiredCancellations(ctx, asOf, j.batch)
	if err != nil {
		return fmt.Errorf("finalize cancellations: %w", err)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"promoted":  promoted,
		"finalized": finalized,
	})
	j.logg.Info(logCtx, "subscription maintenance cycle complete")
	return nil
}
