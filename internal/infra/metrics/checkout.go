package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		checkoutSessionsTotal,
		verifyResultsTotal,
		rateLimitRejectionsTotal,
		providerCallDuration,
	)
}

var (
	// outcome: created|reused|error
	checkoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "createCheckoutSession results by outcome.",
		},
		[]string{"outcome"},
	)

	// result: paid_unlocked|already_entitled|not_paid
	verifyResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_verify_results_total",
			Help: "verifyCheckoutSession results.",
		},
		[]string{"result"},
	)

	rateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by a rate limiter, labeled by limiter.",
		},
		[]string{"limiter"}, // 'checkout', 'caller'
	)

	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_provider_call_duration_seconds",
			Help:    "Latency of payment provider API calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "op", "success"},
	)
)

func IncCheckoutSession(outcome string) {
	checkoutSessionsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncVerifyResult(result string) {
	verifyResultsTotal.WithLabelValues(norm(result)).Inc()
}

func IncRateLimitRejection(limiter string) {
	rateLimitRejectionsTotal.WithLabelValues(norm(limiter)).Inc()
}

func ObserveProviderCall(provider, op string, started time.Time, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	providerCallDuration.WithLabelValues(norm(provider), norm(op), success).
		Observe(time.Since(started).Seconds())
}
