package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/api/middleware"
	"github.com/swiftwatch/swiftwatch-backend/api/responses"
	"github.com/swiftwatch/swiftwatch-backend/internal/metering"
	"github.com/swiftwatch/swiftwatch-backend/internal/subscriptions"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

type usageRowView struct {
	Metric      string    `json:"metric"`
	Ceiling     int64     `json:"ceiling"`
	Current     int64     `json:"current"`
	Remaining   *int64    `json:"remaining,omitempty"`
	Unlimited   bool      `json:"unlimited"`
	PeriodStart time.Time `json:"period_start"`
}

// UsageShow returns the account's current-period counters for every metered
// metric. Counters are seeded on read so a fresh period reports zeros
// instead of missing rows.
func UsageShow(subs *subscriptions.Service, meter *metering.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if subs == nil || meter == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		sub, err := subs.EnsureMetered(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limits, err := meter.Usage(ctx, sub)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows := make([]usageRowView, 0, len(limits))
		for _, limit := range limits {
			row := usageRowView{
				Metric:      limit.Metric.String(),
				Ceiling:     limit.Ceiling,
				Current:     limit.Current,
				Unlimited:   limit.Ceiling < 0,
				PeriodStart: limit.PeriodStart,
			}
			if !row.Unlimited {
				remaining := limit.Ceiling - limit.Current
				if remaining < 0 {
					remaining = 0
				}
				row.Remaining = &remaining
			}
			rows = append(rows, row)
		}

		responses.WriteSuccess(w, map[string]any{
			"plan":   sub.Plan.String(),
			"limits": rows,
		})
	}
}
