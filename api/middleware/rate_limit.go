package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/api/responses"
	"github.com/swiftwatch/swiftwatch-backend/pkg/config"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

type rateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// IngestRateLimit throttles the run-upload surface per account and per IP.
// Redis being unavailable fails open; metering still bounds total usage.
func IngestRateLimit(cfg config.IngestRateLimitConfig, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || cfg.Window <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cfg.AccountLimit > 0 {
				if accountID := AccountIDFromContext(ctx); accountID != uuid.Nil {
					allowed, count, err := store.FixedWindowAllow(ctx, "ingest:account:"+accountID.String(), int64(cfg.AccountLimit), cfg.Window)
					if err != nil {
						if logg != nil {
							logg.Error(ctx, "rate limit store unavailable", err)
						}
					} else if !allowed {
						writeRateLimited(ctx, logg, w, "account", count, cfg.AccountLimit)
						return
					}
				}
			}

			if cfg.IPLimit > 0 {
				if ip := clientIP(r); ip != "" {
					allowed, count, err := store.FixedWindowAllow(ctx, "ingest:ip:"+ip, int64(cfg.IPLimit), cfg.Window)
					if err != nil {
						if logg != nil {
							logg.Error(ctx, "rate limit store unavailable", err)
						}
					} else if !allowed {
						writeRateLimited(ctx, logg, w, "ip", count, cfg.IPLimit)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, scope string, count int64, limit int) {
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "too many uploads, slow down").
		WithDetails(map[string]any{"scope": scope, "count": count, "limit": limit})
	responses.WriteError(ctx, logg, w, err)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
