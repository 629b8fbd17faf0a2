package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		eventLockDuplicatesTotal,
		grantsTotal,
		refundOutcomesTotal,
		callableRequestsTotal,
	)
}

var (
	// result: ok|bad_signature|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook deliveries by event type and result.",
		},
		[]string{"type", "result"},
	)

	eventLockDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "event_lock_duplicates_total",
			Help: "Webhook deliveries skipped because the event was already taken.",
		},
	)

	// source: verify|webhook|reconciler
	grantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_grants_total",
			Help: "Paid purchases reconciled into entitlements, by source.",
		},
		[]string{"source"},
	)

	// outcome: revoked|superseded|subscriber|no_purchase
	refundOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_outcomes_total",
			Help: "Refund handling outcomes.",
		},
		[]string{"outcome"},
	)

	callableRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callable_requests_total",
			Help: "Callable function invocations by function and status code.",
		},
		[]string{"function", "code"},
	)
)

func IncWebhookEvent(eventType, result string) {
	webhookEventsTotal.WithLabelValues(norm(eventType), norm(result)).Inc()
}

func IncEventLockDuplicate() { eventLockDuplicatesTotal.Inc() }

func IncGrant(source string) {
	grantsTotal.WithLabelValues(norm(source)).Inc()
}

func IncRefundOutcome(outcome string) {
	refundOutcomesTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncCallable(function, code string) {
	callableRequestsTotal.WithLabelValues(norm(function), norm(code)).Inc()
}
