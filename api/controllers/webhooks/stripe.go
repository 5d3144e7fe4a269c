package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/swiftwatch/swiftwatch-backend/api/responses"
	"github.com/swiftwatch/swiftwatch-backend/internal/audit"
	"github.com/swiftwatch/swiftwatch-backend/internal/events"
	"github.com/swiftwatch/swiftwatch-backend/internal/reconciler"
	"github.com/swiftwatch/swiftwatch-backend/pkg/config"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
	"github.com/swiftwatch/swiftwatch-backend/pkg/metrics"
)

// EventStore records inbound deliveries and reports replays.
type EventStore interface {
	Record(ctx context.Context, input events.RecordInput) (*models.BillingEvent, bool, error)
}

// Reconciler applies a recorded event to subscription state.
type Reconciler interface {
	Process(ctx context.Context, event *models.BillingEvent, norm *reconciler.NormalizedEvent) error
}

type auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// StripeWebhook verifies, records and reconciles Stripe subscription events.
// Stripe retries on anything but 2xx: signature failures return 401,
// processing failures return a retryable 5xx with the event row already
// marked failed for the retry worker, everything else acknowledges with 200.
func StripeWebhook(cfg config.StripeConfig, store EventStore, rec Reconciler, aud auditor, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if store == nil || rec == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		event, err := webhook.ConstructEvent(payload, sigHeader, cfg.SigningSecret)
		if err != nil {
			auditSignatureFailure(ctx, aud, enums.BillingProviderStripe, err)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "verify stripe signature"))
			return
		}

		norm, err := reconciler.NormalizeStripe(&event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if norm == nil {
			// Event type we do not track; acknowledge so Stripe stops retrying.
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		raw, err := json.Marshal(event)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode event"))
			return
		}
		stored, alreadySeen, err := store.Record(ctx, events.RecordInput{
			Provider:        enums.BillingProviderStripe,
			ExternalEventID: event.ID,
			EventType:       string(event.Type),
			Payload:         raw,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if alreadySeen {
			wm.IncDuplicate(enums.BillingProviderStripe.String())
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		if err := rec.Process(ctx, stored, norm); err != nil {
			// The event row is persisted and marked failed; the retry worker
			// finishes the job. Stripe still gets a retryable status.
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

func auditSignatureFailure(ctx context.Context, aud auditor, provider enums.BillingProvider, err error) {
	if aud == nil {
		return
	}
	aud.Record(ctx, audit.Entry{
		Actor:    "webhook:" + provider.String(),
		Category: enums.AuditCategoryAuthentication,
		Action:   "webhook_signature_invalid",
		Success:  false,
		Metadata: map[string]any{"error": err.Error()},
	})
}
