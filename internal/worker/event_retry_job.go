package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/swiftwatch/swiftwatch-backend/internal/reconciler"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

const (
	defaultRetryBatch  = 100
	defaultRetryMaxAge = 7 * 24 * time.Hour
)

type failedEventSource interface {
	ListFailed(ctx context.Context, limit int, maxAge time.Duration) ([]models.BillingEvent, error)
}

type eventProcessor interface {
	Process(ctx context.Context, event *models.BillingEvent, norm *reconciler.NormalizedEvent) error
}

// EventRetryJobParams configure the failed-event retry job.
type EventRetryJobParams struct {
	Logger    *logger.Logger
	Events    failedEventSource
	Processor eventProcessor
	Batch     int
	MaxAge    time.Duration
}

// NewEventRetryJob builds the job that re-drives failed billing events
// through the reconciler. Events older than MaxAge are left alone; by then
// the provider has given up redelivering and an operator needs to look.
func NewEventRetryJob(params EventRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event source required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("event processor required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultRetryBatch
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultRetryMaxAge
	}
	return &eventRetryJob{
		logg:      params.Logger,
		events:    params.Events,
		processor: params.Processor,
		batch:     batch,
		maxAge:    maxAge,
	}, nil
}

type eventRetryJob struct {
	logg      *logger.Logger
	events    failedEventSource
	processor eventProcessor
	batch     int
	maxAge    time.Duration
}

func (j *eventRetryJob) Name() string { return "billing-event-retry" }

func (j *eventRetryJob) Run(ctx context.Context) error {
	failed, err := j.events.ListFailed(ctx, j.batch, j.maxAge)
	if err != nil {
		return fmt.Errorf("list failed events: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}

	var retried, recovered int
	var errs error
	for i := range failed {
		event := &failed[i]
		norm, err := reconciler.NormalizeStored(event)
		if err != nil {
			// Payload that no longer normalizes will never succeed; keep it
			// failed and surface the error for the operator.
			errs = multierr.Append(errs, fmt.Errorf("normalize event %s: %w", event.ID, err))
			continue
		}
		retried++
		if err := j.processor.Process(ctx, event, norm); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("retry event %s: %w", event.ID, err))
			continue
		}
		recovered++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"failed":    len(failed),
		"retried":   retried,
		"recovered": recovered,
	})
	j.logg.Info(logCtx, "billing event retry cycle complete")
	return errs
}
