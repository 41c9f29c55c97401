// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic with bounded
// label cardinality:
//
//   - method: HTTP method
//   - path:   the registered Gin route, or "unmatched" when no route matched
//   - status: numeric status code
//
// Long-lived event streams are counted like any other request; their latency
// is the full stream duration.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-tutor-chat/internal/observability"
)

const unmatchedRoute = "unmatched"

// HTTPMetrics holds the HTTP collectors.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
	respSize *prometheus.HistogramVec
}

// NewHTTPMetrics creates the collectors and registers them with reg, reusing
// collectors a previous call already registered.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "path"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		}),
		respSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		}, []string{"method", "path"}),
	}
	if reg != nil {
		m.requests = observability.RegisterOrReuse(reg, m.requests)
		m.latency = observability.RegisterOrReuse(reg, m.latency)
		m.inflight = observability.RegisterOrReuse(reg, m.inflight)
		m.respSize = observability.RegisterOrReuse(reg, m.respSize)
	}
	return m
}

// Handler returns the instrumenting middleware.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			m.respSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
