// Package metrics exposes Prometheus collectors for HTTP traffic, business
// events and scheduled jobs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "domus"

var (
	// Registry holds the application collectors
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	applicationsApproved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "applications",
			Name:      "approved_total",
			Help:      "Applications approved into tenants.",
		},
	)

	paymentsPaid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "paid_total",
			Help:      "Payments settled, by timeliness.",
		},
		[]string{"timeliness"},
	)

	paymentsAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "paid_amount_total",
			Help:      "Amount collected, by timeliness.",
		},
		[]string{"timeliness"},
	)

	pointsAwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loyalty",
			Name:      "points_total",
			Help:      "Loyalty points granted (positive) or removed (negative), by event.",
		},
		[]string{"event", "direction"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		applicationsApproved,
		paymentsPaid,
		paymentsAmount,
		pointsAwarded,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request metrics labelled by route template
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Business records domain events. It satisfies engine.Observer.
type Business struct{}

// ApplicationApproved counts an approval
func (Business) ApplicationApproved() {
	applicationsApproved.Inc()
}

// PaymentPaid counts a settled payment
func (Business) PaymentPaid(timeliness string, amount float64) {
	if timeliness == "" {
		timeliness = "unknown"
	}
	paymentsPaid.WithLabelValues(timeliness).Inc()
	if amount > 0 {
		paymentsAmount.WithLabelValues(timeliness).Add(amount)
	}
}

// PointsAwarded adds granted or removed points
func (Business) PointsAwarded(event string, points int) {
	switch {
	case points > 0:
		pointsAwarded.WithLabelValues(event, "granted").Add(float64(points))
	case points < 0:
		pointsAwarded.WithLabelValues(event, "removed").Add(float64(-points))
	}
}

// RecordJob records one scheduled job run
func RecordJob(job string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
