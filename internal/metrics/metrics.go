package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shortlink"

// Metrics holds every collector the service exports. Build one per registry.
type Metrics struct {
	CacheOps       *prometheus.CounterVec
	CodesCreated   *prometheus.CounterVec
	CodeCollisions prometheus.Counter
	ClickTasks     *prometheus.CounterVec
	ClickFailures  *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	gatherer       prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache gateway calls by operation and result (hit, miss, ok, error, disabled).",
		}, []string{"op", "result"}),
		CodesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_created_total",
			Help:      "Short codes persisted, by generation strategy.",
		}, []string{"strategy"}),
		CodeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Inserts rejected by the short_code unique constraint.",
		}),
		ClickTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clicks",
			Name:      "tasks_total",
			Help:      "Click accounting tasks by outcome (queued, dropped, done).",
		}, []string{"result"}),
		ClickFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clicks",
			Name:      "failures_total",
			Help:      "Swallowed click accounting failures by step.",
		}, []string{"step"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.CacheOps,
		m.CodesCreated,
		m.CodeCollisions,
		m.ClickTasks,
		m.ClickFailures,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry this Metrics was built with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
