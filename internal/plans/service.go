package plans

import (
	"context"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

// ServiceParams configures the plan catalog service.
type ServiceParams struct {
	Repo Repository
}

// Service serves the purchasable plan catalog.
type Service struct {
	repo Repository
}

// NewService validates dependencies and returns a catalog service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan repo required")
	}
	return &Service{repo: params.Repo}, nil
}

// Catalog lists the plans a customer can purchase today. Retired plans stay
// out of the listing but keep backing subscriptions that still reference them.
func (s *Service) Catalog(ctx context.Context) ([]models.BillingPlan, error) {
	rows, err := s.repo.ListByStatus(ctx, enums.PlanStatusActive)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plan catalog")
	}
	return rows, nil
}

// Describe returns the catalog row for the given tier, nil when the catalog
// has no entry for it.
func (s *Service) Describe(ctx context.Context, plan enums.Plan) (*models.BillingPlan, error) {
	row, err := s.repo.FindByPlan(ctx, plan)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan catalog entry")
	}
	return row, nil
}
