package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics tracks inbound billing webhook deliveries per provider.
type WebhookMetrics struct {
	received   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewWebhookMetrics registers webhook delivery metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received",
		Help: "Billing webhook events accepted for processing.",
	}, []string{"provider", "event_type"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_duplicate",
		Help: "Billing webhook deliveries skipped as replays.",
	}, []string{"provider"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_failed",
		Help: "Billing webhook events that failed processing.",
	}, []string{"provider", "event_type"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "Time spent reconciling a webhook event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	reg.MustRegister(received, duplicates, failures, duration)
	return &WebhookMetrics{
		received:   received,
		duplicates: duplicates,
		failures:   failures,
		duration:   duration,
	}
}

// IncReceived counts an accepted delivery.
func (w *WebhookMetrics) IncReceived(provider, eventType string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// IncDuplicate counts a replayed delivery that was skipped.
func (w *WebhookMetrics) IncDuplicate(provider string) {
	if w == nil || w.duplicates == nil {
		return
	}
	w.duplicates.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncFailed counts a delivery whose reconciliation failed.
func (w *WebhookMetrics) IncFailed(provider, eventType string) {
	if w == nil || w.failures == nil {
		return
	}
	w.failures.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// ObserveProcessing records the reconciliation duration for a delivery.
func (w *WebhookMetrics) ObserveProcessing(provider string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

// MeteringMetrics tracks usage ceiling checks.
type MeteringMetrics struct {
	checks *prometheus.CounterVec
	denied *prometheus.CounterVec
}

// NewMeteringMetrics registers usage metering metrics on the provided registerer.
func NewMeteringMetrics(reg prometheus.Registerer) *MeteringMetrics {
	if reg == nil {
		return &MeteringMetrics{}
	}
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metering_checks",
		Help: "Usage ceiling checks performed.",
	}, []string{"metric"})
	denied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metering_denied",
		Help: "Usage ceiling checks denied at the limit.",
	}, []string{"metric"})
	reg.MustRegister(checks, denied)
	return &MeteringMetrics{checks: checks, denied: denied}
}

// IncCheck counts a ceiling check attempt.
func (m *MeteringMetrics) IncCheck(metric string) {
	if m == nil || m.checks == nil {
		return
	}
	m.checks.WithLabelValues(normalizeLabel(metric)).Inc()
}

// IncDenied counts a check rejected at the ceiling.
func (m *MeteringMetrics) IncDenied(metric string) {
	if m == nil || m.denied == nil {
		return
	}
	m.denied.WithLabelValues(normalizeLabel(metric)).Inc()
}
