package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "margin_http_requests_total",
			Help: "Total HTTP requests processed, partitioned by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "margin_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, partitioned by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	annotationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "margin_annotation_events_total",
			Help: "Annotation events delivered, partitioned by action",
		},
		[]string{"action"},
	)
)

// MetricsMiddleware records request counts and latencies per route
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		httpRequestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		httpRequestDuration.WithLabelValues(
			c.Request.Method, route,
		).Observe(time.Since(start).Seconds())
	}
}

// CountAnnotationEvent records a delivered annotation event
func CountAnnotationEvent(action AnnotationAction) {
	annotationEventsTotal.WithLabelValues(string(action)).Inc()
}

// RegisterMetricsRoute exposes the Prometheus scrape endpoint
func RegisterMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
