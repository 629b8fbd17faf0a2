package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, sweptRecordsTotal) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Background job items processed, labeled by job and outcome.",
		},
		[]string{"job", "outcome"}, // job='checkout_reconciler', outcome='granted'|'expired'|'open'|'error'
	)

	sweptRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttl_swept_records_total",
			Help: "Expired records deleted by the TTL sweeper, labeled by kind.",
		},
		[]string{"kind"}, // 'rate_limit', 'checkout_attempt', 'event_lock'
	)
)

func IncJob(job, outcome string) {
	jobsProcessedTotal.WithLabelValues(norm(job), norm(outcome)).Inc()
}

func AddSwept(kind string, n int64) {
	sweptRecordsTotal.WithLabelValues(norm(kind)).Add(float64(n))
}
