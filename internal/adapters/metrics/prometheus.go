package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements ports.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	cacheResults    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	cancelled       *prometheus.CounterVec
	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_cache_results_total",
			Help: "Cache lookups by outcome (hit, miss, stale).",
		}, []string{"cache", "result"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_backend_request_duration_seconds",
			Help:    "Latency of calls to the analytics backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_view_requests_cancelled_total",
			Help: "View requests aborted by a dependency change, cancel or unmount.",
		}, []string{"view"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	p.registry.MustRegister(
		p.cacheResults, p.backendDuration, p.cancelled,
		p.httpInFlight, p.httpRequests, p.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) CacheResult(cache, result string) {
	p.cacheResults.WithLabelValues(cache, result).Inc()
}

func (p *Prometheus) BackendRequest(method, route string, status int, seconds float64) {
	p.backendDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

func (p *Prometheus) RequestCancelled(view string) {
	p.cancelled.WithLabelValues(view).Inc()
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Middleware records RPS, latency and in-flight requests per route pattern.
func (p *Prometheus) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.httpInFlight.Inc()
			defer p.httpInFlight.Dec()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			p.httpDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			p.httpRequests.WithLabelValues(labels...).Inc()
			return err
		}
	}
}
