package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Submissions      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "asset_jobs_submitted_total", Help: "Job submissions by kind and result"}, []string{"kind", "result"})
	DispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "asset_jobs_dispatch_failures_total", Help: "Webhook dispatches that failed"}, []string{"kind"})
	WatchResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "asset_jobs_watch_resolutions_total", Help: "Watch tasks resolved by terminal state"}, []string{"kind", "state"})
	ActiveWatches    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "asset_jobs_active_watches", Help: "Watch tasks currently observing a job"})
	RealtimeRelayed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "asset_jobs_realtime_relayed_total", Help: "Job record changes relayed from Postgres to Redis"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "asset_jobs_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	WorkerCallbacks  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "asset_jobs_worker_callbacks_total", Help: "Worker callbacks received by kind and outcome"}, []string{"kind", "outcome"})
	DevWorkerJobs    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "asset_devworker_jobs_total", Help: "Jobs processed by the reference worker"}, []string{"kind", "result"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Submissions,
			DispatchFailures,
			WatchResolutions,
			ActiveWatches,
			RealtimeRelayed,
			RateLimitRejects,
			WorkerCallbacks,
			DevWorkerJobs,
		)
	})
	return promhttp.Handler()
}
