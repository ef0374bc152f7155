// Package metrics exposes the prometheus counters the ingestion pipeline
// increments on every event classification.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts every webhook entry classification.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_webhook_events_total",
		Help: "Webhook event classifications by origin, tenant, instance, result and reason.",
	}, []string{"origin", "tenant_id", "instance_id", "result", "reason"})

	// WebhookRejections counts pre-pipeline rejections (auth, rate limit).
	WebhookRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_webhook_rejections_total",
		Help: "Webhook requests rejected before dispatch, by reason.",
	}, []string{"reason"})

	// MediaRetry tracks the deferred media download loop.
	MediaRetry = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_media_retry_total",
		Help: "Media retry worker outcomes (success, retry, dlq, lease_lost).",
	}, []string{"result"})

	// RealtimeEmits counts fan-out emissions per event name.
	RealtimeEmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_emits_total",
		Help: "Realtime events emitted, by event name and channel kind.",
	}, []string{"event", "channel"})
)

// CountEvent increments the webhook event counter with the standard label
// set. Empty tenant/instance collapse onto "unknown" to keep cardinality
// sane.
func CountEvent(origin, tenantID, instanceID, result, reason string) {
	if tenantID == "" {
		tenantID = "unknown"
	}
	if instanceID == "" {
		instanceID = "unknown"
	}
	WebhookEvents.WithLabelValues(origin, tenantID, instanceID, result, reason).Inc()
}
