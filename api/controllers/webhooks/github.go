package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/swiftwatch/swiftwatch-backend/api/responses"
	"github.com/swiftwatch/swiftwatch-backend/internal/events"
	"github.com/swiftwatch/swiftwatch-backend/internal/reconciler"
	"github.com/swiftwatch/swiftwatch-backend/pkg/config"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
	"github.com/swiftwatch/swiftwatch-backend/pkg/metrics"
)

const (
	githubSignatureHeader = "X-Hub-Signature-256"
	githubDeliveryHeader  = "X-GitHub-Delivery"
	githubEventHeader     = "X-GitHub-Event"
)

// GitHubWebhook verifies, records and reconciles GitHub Marketplace
// purchase events. The delivery id header is the idempotency key; the body
// carries no event id.
func GitHubWebhook(cfg config.MarketplaceConfig, store EventStore, rec Reconciler, aud auditor, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
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

		if !validateGitHubSignature(payload, cfg.SigningSecret, r.Header.Get(githubSignatureHeader)) {
			err := pkgerrors.New(pkgerrors.CodeSignatureInvalid, "verify github signature")
			auditSignatureFailure(ctx, aud, enums.BillingProviderMarketplace, err)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// Only marketplace_purchase carries billing state; ping and the rest
		// are acknowledged untouched.
		if event := r.Header.Get(githubEventHeader); event != "" && event != "marketplace_purchase" {
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		deliveryID := strings.TrimSpace(r.Header.Get(githubDeliveryHeader))
		norm, err := reconciler.NormalizeGitHub(deliveryID, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		stored, alreadySeen, err := store.Record(ctx, events.RecordInput{
			Provider:        enums.BillingProviderMarketplace,
			ExternalEventID: deliveryID,
			EventType:       string(norm.Type),
			Payload:         payload,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if alreadySeen {
			wm.IncDuplicate(enums.BillingProviderMarketplace.String())
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		if err := rec.Process(ctx, stored, norm); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

func validateGitHubSignature(payload []byte, secret, header string) bool {
	if secret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
