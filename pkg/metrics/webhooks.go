package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records per-provider webhook ingestion outcomes.
type WebhookMetrics struct {
	duration   *prometheus.HistogramVec
	processed  *prometheus.CounterVec
	deduped    *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
	fanoutErrs *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_duration_seconds",
		Help:    "Duration of webhook handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_processed_total",
		Help: "Webhook deliveries fully reconciled.",
	}, []string{"provider"})
	deduped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deduped_total",
		Help: "Webhook redeliveries dropped by the dedup guard.",
	}, []string{"provider"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook deliveries rejected during signature verification.",
	}, []string{"provider"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_fallback_created_total",
		Help: "Donations created because no existing record matched the capture.",
	}, []string{"provider"})
	fanoutErrs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_branch_failures_total",
		Help: "Fan-out branch failures by destination.",
	}, []string{"destination"})
	reg.MustRegister(duration, processed, deduped, rejected, fallbacks, fanoutErrs)
	return &WebhookMetrics{
		duration:   duration,
		processed:  processed,
		deduped:    deduped,
		rejected:   rejected,
		fallbacks:  fallbacks,
		fanoutErrs: fanoutErrs,
	}
}

// ObserveDuration records handling duration for the named provider.
func (w *WebhookMetrics) ObserveDuration(provider string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

// IncProcessed increments the processed counter for the named provider.
func (w *WebhookMetrics) IncProcessed(provider string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncDeduped increments the dedup counter for the named provider.
func (w *WebhookMetrics) IncDeduped(provider string) {
	if w == nil || w.deduped == nil {
		return
	}
	w.deduped.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncRejected increments the rejected counter for the named provider.
func (w *WebhookMetrics) IncRejected(provider string) {
	if w == nil || w.rejected == nil {
		return
	}
	w.rejected.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncFallbackCreated increments the fallback-record counter for a provider.
func (w *WebhookMetrics) IncFallbackCreated(provider string) {
	if w == nil || w.fallbacks == nil {
		return
	}
	w.fallbacks.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncFanoutFailure increments the failure counter for a fan-out destination.
func (w *WebhookMetrics) IncFanoutFailure(destination string) {
	if w == nil || w.fanoutErrs == nil {
		return
	}
	w.fanoutErrs.WithLabelValues(normalizeLabel(destination)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
