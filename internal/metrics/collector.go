// Package metrics exposes Prometheus collectors for HTTP traffic and
// tokenizer registry activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "colortok"

// Collector holds the service metrics. It implements registry.Observer.
type Collector struct {
	reg *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	renderTokens *prometheus.HistogramVec

	cacheHits    *prometheus.CounterVec
	loadsTotal   *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
}

// NewCollector registers the collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return newCollector(reg)
}

func newCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
		renderTokens: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "render_tokens",
				Help:      "Tokens per rendered request",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"mode"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "registry_cache_hits_total",
				Help:      "Tokenizer lookups served from the registry cache",
			},
			[]string{"mode"},
		),
		loadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "registry_loads_total",
				Help:      "Tokenizer loads by outcome",
			},
			[]string{"mode", "result"},
		),
		loadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "registry_load_duration_seconds",
				Help:      "Tokenizer load duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"mode"},
		),
	}
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// CacheHit records a registry cache hit.
func (c *Collector) CacheHit(mode string) {
	c.cacheHits.WithLabelValues(mode).Inc()
}

// Loaded records a tokenizer load attempt.
func (c *Collector) Loaded(mode string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	c.loadsTotal.WithLabelValues(mode, result).Inc()
	c.loadDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordRender records the token count of a successful render.
func (c *Collector) RecordRender(mode string, tokens int) {
	c.renderTokens.WithLabelValues(mode).Observe(float64(tokens))
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Middleware instruments next. route maps a request to its path label so
// arbitrary URLs cannot inflate label cardinality.
func (c *Collector) Middleware(route func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		c.RecordHTTPRequest(r.Method, route(r), rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}

	return strconv.Itoa(code/100) + "xx"
}
