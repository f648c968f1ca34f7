package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheSets      prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheHitRatio  prometheus.Gauge

	// Store metrics
	StoreErrors *prometheus.CounterVec

	// Invocation metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	RetriesTotal       *prometheus.CounterVec

	// Monitor metrics
	OperationDuration *prometheus.HistogramVec

	// Breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "bulwark",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on a private
// registry so each composition root (and each test) gets a fresh instance.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	ns := config.Namespace

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheSets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_sets_total",
			Help:      "Total number of cache writes",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted under storage pressure",
		}),
		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_hit_ratio",
			Help:      "Current cache hit ratio",
		}),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "store_errors_total",
				Help:      "Total number of swallowed persistent store errors",
			},
			[]string{"operation"},
		),

		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "invocations_total",
				Help:      "Total number of resilient invocations",
			},
			[]string{"name", "status"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "invocation_duration_seconds",
				Help:      "Resilient invocation duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"name"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "retries_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"name"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "operation_duration_seconds",
				Help:      "Monitored operation duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"name", "to"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
	}

	m.registry.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheSets,
		m.CacheEvictions,
		m.CacheHitRatio,
		m.StoreErrors,
		m.InvocationsTotal,
		m.InvocationDuration,
		m.RetriesTotal,
		m.OperationDuration,
		m.BreakerState,
		m.BreakerTransitions,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Inc()
}

// RecordCacheSet records a cache write
func (m *Metrics) RecordCacheSet() {
	if m.CacheSets == nil {
		return
	}
	m.CacheSets.Inc()
}

// RecordCacheEvictions records evicted entries
func (m *Metrics) RecordCacheEvictions(count int) {
	if m.CacheEvictions == nil {
		return
	}
	m.CacheEvictions.Add(float64(count))
}

// UpdateCacheHitRatio updates the hit ratio gauge
func (m *Metrics) UpdateCacheHitRatio(ratio float64) {
	if m.CacheHitRatio == nil {
		return
	}
	m.CacheHitRatio.Set(ratio)
}

// RecordStoreError records a swallowed store error
func (m *Metrics) RecordStoreError(operation string) {
	if m.StoreErrors == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordInvocation records the outcome of a resilient invocation
func (m *Metrics) RecordInvocation(name, status string, duration time.Duration) {
	if m.InvocationsTotal == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(name, status).Inc()
	m.InvocationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordRetry records a retry attempt
func (m *Metrics) RecordRetry(name string) {
	if m.RetriesTotal == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(name).Inc()
}

// RecordOperationDuration records a monitored operation's wall-clock time
func (m *Metrics) RecordOperationDuration(name string, duration time.Duration) {
	if m.OperationDuration == nil {
		return
	}
	m.OperationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// UpdateBreakerState updates the breaker state gauge
func (m *Metrics) UpdateBreakerState(name string, state int) {
	if m.BreakerState == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordBreakerTransition records a breaker state change
func (m *Metrics) RecordBreakerTransition(name, to string) {
	if m.BreakerTransitions == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(name, to).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
