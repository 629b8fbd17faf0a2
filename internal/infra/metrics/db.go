package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, dbAcquireWait) }

var (
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "Connections in the Postgres pool by state.",
		},
		[]string{"state"}, // total | idle | in_use | max
	)
	dbAcquireWait = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_acquire_wait_seconds",
			Help: "Cumulative time spent waiting for a pool connection.",
		},
	)
)

func SetDBPoolStats(total, idle, inUse, max int32, acquireWaitSeconds float64) {
	dbPoolConns.WithLabelValues("total").Set(float64(total))
	dbPoolConns.WithLabelValues("idle").Set(float64(idle))
	dbPoolConns.WithLabelValues("in_use").Set(float64(inUse))
	dbPoolConns.WithLabelValues("max").Set(float64(max))
	dbAcquireWait.Set(acquireWaitSeconds)
}
