// Package metrics registers the Prometheus collectors of planalloc.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "planalloc"

type collectors struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	detailsTotal  prometheus.Counter
	lockConflicts prometheus.Counter
	exportsTotal  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	rateLimited   prometheus.Counter
	suspicious    prometheus.Counter
}

var singleton = sync.OnceValue(func() *collectors {
	return &collectors{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "runs_total",
			Help:      "Allocation runs by final status and error code.",
		}, []string{"status", "code"}),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "run_duration_seconds",
			Help:      "Wall time of allocation runs, lock to release.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
		detailsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "details_total",
			Help:      "Allocation detail lines committed.",
		}),
		lockConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "lock_conflicts_total",
			Help:      "Runs refused because the same plan version was already running.",
		}),
		exportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "results_total",
			Help:      "Execution exports by result.",
		}, []string{"result"}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		httpLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
		suspicious: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "suspicious_requests_total",
			Help:      "Requests matching a known scanner or attack pattern.",
		}),
	}
})

// ObserveRun records a finished run. code is empty for successful runs.
func ObserveRun(status, code string, elapsed time.Duration, details int) {
	m := singleton()
	m.runsTotal.WithLabelValues(status, code).Inc()
	m.runDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if details > 0 {
		m.detailsTotal.Add(float64(details))
	}
}

func LockConflict() {
	singleton().lockConflicts.Inc()
}

// ObserveExport records one export attempt; result is "exported" or "error".
func ObserveExport(result string) {
	singleton().exportsTotal.WithLabelValues(result).Inc()
}

func ObserveHTTP(route string, code int, elapsed time.Duration) {
	m := singleton()
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func RateLimited() {
	singleton().rateLimited.Inc()
}

func SuspiciousRequest() {
	singleton().suspicious.Inc()
}
