// Package metrics is the single injected Prometheus facade every bytebin
// component reports through. Each process owns one Registry rather than
// registering against global collectors, so components stay independently
// testable.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric bytebin's engine components report to.
// Construct one with New and pass it to every component constructor.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec
	HTTPRequestsTotal   *prometheus.CounterVec

	BackendOpDuration *prometheus.HistogramVec
	BackendOpErrors   *prometheus.CounterVec

	IndexOpDuration *prometheus.HistogramVec
	IndexOpErrors   *prometheus.CounterVec

	ComponentErrors *prometheus.CounterVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheBytes  prometheus.Gauge

	StoredCount *prometheus.GaugeVec
	StoredBytes *prometheus.GaugeVec

	HousekeeperRuns    prometheus.Counter
	HousekeeperExpired prometheus.Counter

	RateLimitRejections *prometheus.CounterVec
}

// New constructs a Registry backed by a fresh prometheus.Registry, not the
// global DefaultRegisterer — each bytebin process owns its own.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "bytebin_http_request_duration_seconds",
			Help: "HTTP request duration by route and method.",
		}, []string{"route", "method", "status"}),

		HTTPRequestsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bytebin_http_requests_in_flight",
			Help: "HTTP requests currently being handled, by route.",
		}, []string{"route"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bytebin_http_requests_total",
			Help: "HTTP requests handled, by route, method and status.",
		}, []string{"route", "method", "status"}),

		BackendOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "bytebin_backend_operation_duration_seconds",
			Help: "Storage backend operation duration.",
		}, []string{"backend", "op"}),

		BackendOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bytebin_backend_operation_errors_total",
			Help: "Storage backend operation errors.",
		}, []string{"backend", "op"}),

		IndexOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "bytebin_index_operation_duration_seconds",
			Help: "Content index operation duration.",
		}, []string{"op"}),

		IndexOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bytebin_index_operation_errors_total",
			Help: "Content index operation errors.",
		}, []string{"op"}),

		ComponentErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bytebin_component_errors_total",
			Help: "Errors swallowed by background components.",
		}, []string{"component"}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "bytebin_cache_hits_total",
			Help: "Content cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "bytebin_cache_misses_total",
			Help: "Content cache misses.",
		}),
		CacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bytebin_cache_bytes",
			Help: "Total byte weight currently held in the content cache.",
		}),

		StoredCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bytebin_stored_records",
			Help: "Stored record count, by content type and backend.",
		}, []string{"content_type", "backend_id"}),
		StoredBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bytebin_stored_bytes",
			Help: "Stored byte count, by content type and backend.",
		}, []string{"content_type", "backend_id"}),

		HousekeeperRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "bytebin_housekeeper_runs_total",
			Help: "Housekeeper scan runs.",
		}),
		HousekeeperExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "bytebin_housekeeper_expired_total",
			Help: "Records deleted by the housekeeper for having expired.",
		}),

		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bytebin_rate_limit_rejections_total",
			Help: "Requests rejected for exceeding a rate limit, by limiter.",
		}, []string{"limiter"}),
	}
}

// Handler returns the http.Handler serving this registry's exposition
// format, for mounting at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
