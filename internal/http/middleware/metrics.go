// Package middleware contains shared Gin middleware used by the HTTP
// layer.
//
// This file exposes Prometheus instrumentation. Metrics() measures HTTP
// request counts, latencies, in-flight concurrency, and response sizes;
// ObserveModeration() counts completed content-pipeline operations by
// action and outcome. Labels are chosen to keep cardinality bounded:
//
//   - method: HTTP verb
//   - path:   the registered Gin route (raw URL path when unmatched)
//   - status: numeric status code string
//   - action/outcome: small fixed vocabularies (edit/delete/approve/
//     merge × ok/validation_failed/error)
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is omitted from the latency histogram to keep cardinality low.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Buckets tuned for typical JSON API payload sizes.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)

	moderationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_moderation_actions_total",
			Help: "Completed moderation pipeline operations by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, moderationOps)
}

// Moderation outcome labels used with ObserveModeration.
const (
	OutcomeOK               = "ok"
	OutcomeValidationFailed = "validation_failed"
	OutcomeError            = "error"
)

// ObserveModeration counts one completed pipeline operation.
func ObserveModeration(action, outcome string) {
	moderationOps.WithLabelValues(action, outcome).Inc()
}

// Metrics returns a Gin middleware that instruments requests with
// Prometheus:
//
//   - increments http_requests_total(method, path, status)
//   - observes http_request_duration_seconds(method, path)
//   - tracks http_requests_inflight during handler execution
//   - observes http_response_size_bytes(method, path)
//
// The path label uses c.FullPath() to avoid unbounded cardinality from
// raw URLs; on unmatched routes it falls back to the request path.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())
		size := c.Writer.Size() // -1 when unknown

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(dur)
		if size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
