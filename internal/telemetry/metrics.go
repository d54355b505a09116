package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_enqueued_total", Help: "Total analysis jobs enqueued"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_completed_total", Help: "Jobs that produced an active asset"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_retried_total", Help: "Job attempts rescheduled with backoff"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_failed_total", Help: "Jobs that failed terminally"})
	JobsSkipped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_skipped_total", Help: "Jobs completed as no-ops (asset gone or owner changed)"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_queue_waiting", Help: "Jobs waiting in the ready queue"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_jobs_inflight", Help: "Jobs currently leased by workers"})
	ConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "realtime_connections", Help: "Authenticated websocket connections"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			JobsSkipped,
			QueueDepthGauge,
			InFlightGauge,
			ConnectionsGauge,
		)
	})
	return promhttp.Handler()
}
