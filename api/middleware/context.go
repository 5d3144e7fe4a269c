package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

type contextKey string

const (
	ctxAccountID contextKey = "account_id"
	ctxPlan      contextKey = "plan"
)

// AccountIDFromContext returns the authenticated account id, or uuid.Nil.
func AccountIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxAccountID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// PlanFromContext returns the plan claim carried by the access token.
func PlanFromContext(ctx context.Context) enums.Plan {
	if ctx == nil {
		return enums.PlanFree
	}
	if v, ok := ctx.Value(ctxPlan).(enums.Plan); ok {
		return v
	}
	return enums.PlanFree
}

// WithAccountID injects the account identifier into the context.
func WithAccountID(ctx context.Context, accountID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxAccountID, accountID)
}

// WithPlan injects the plan claim into the context.
func WithPlan(ctx context.Context, plan enums.Plan) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPlan, plan)
}
