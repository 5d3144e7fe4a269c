package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/api/middleware"
	"github.com/swiftwatch/swiftwatch-backend/api/responses"
	"github.com/swiftwatch/swiftwatch-backend/internal/subscriptions"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

// PlanCatalog exposes the purchasable plan listing and per-tier lookup.
type PlanCatalog interface {
	Catalog(ctx context.Context) ([]models.BillingPlan, error)
	Describe(ctx context.Context, plan enums.Plan) (*models.BillingPlan, error)
}

type catalogEntryView struct {
	Plan         string   `json:"plan"`
	Name         string   `json:"name"`
	MonthlyPrice string   `json:"monthly_price"`
	YearlyPrice  string   `json:"yearly_price"`
	Features     []string `json:"features"`
}

func toCatalogEntryView(row *models.BillingPlan) catalogEntryView {
	return catalogEntryView{
		Plan:         row.Plan.String(),
		Name:         row.Name,
		MonthlyPrice: row.MonthlyPrice.StringFixed(2),
		YearlyPrice:  row.YearlyPrice.StringFixed(2),
		Features:     append([]string(nil), row.Features...),
	}
}

// PlansList serves the purchasable plan catalog. The listing is public: it is
// the pricing page data, not account state.
func PlansList(catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if catalog == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		rows, err := catalog.Catalog(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		views := make([]catalogEntryView, 0, len(rows))
		for i := range rows {
			views = append(views, toCatalogEntryView(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{"plans": views})
	}
}

type planDetailView struct {
	*subscriptions.PlanView
	Catalog *catalogEntryView `json:"catalog,omitempty"`
}

// PlanShow resolves the plan the account is entitled to right now, joined
// with the catalog entry for that tier when one exists.
func PlanShow(subs *subscriptions.Service, catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if subs == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		view, err := subs.EffectivePlan(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		detail := planDetailView{PlanView: view}
		if catalog != nil {
			row, err := catalog.Describe(ctx, view.Plan)
			if err != nil {
				// The entitlement answer stands on its own without pricing.
				logg.Error(ctx, "load plan catalog entry", err)
			} else if row != nil {
				entry := toCatalogEntryView(row)
				detail.Catalog = &entry
			}
		}
		responses.WriteSuccess(w, detail)
	}
}
