// Package metrics provides Prometheus instrumentation for the rankpilot platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rankpilot",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rankpilot",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BillingCallsTotal counts billing-gateway calls by operation and result.
	BillingCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rankpilot",
			Subsystem: "billing",
			Name:      "calls_total",
			Help:      "Total billing gateway calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	// BillingCallDuration observes billing-gateway call latency by operation.
	BillingCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rankpilot",
			Subsystem: "billing",
			Name:      "call_duration_seconds",
			Help:      "Billing gateway call duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	// BillingSyncFailures counts degraded-path remote failures: the local
	// transition committed but the billing line item did not sync. Each
	// increment has a matching structured log line with entity IDs.
	BillingSyncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rankpilot",
			Subsystem: "billing",
			Name:      "sync_failures_total",
			Help:      "Local transitions that committed without their billing line item.",
		},
		[]string{"op"},
	)

	// PlanChangesTotal counts plan-change executions by result.
	PlanChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rankpilot",
			Name:      "plan_changes_total",
			Help:      "Total plan change attempts by result.",
		},
		[]string{"result"},
	)

	// ManagedServiceTransitions counts managed-service state transitions.
	ManagedServiceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rankpilot",
			Name:      "managed_service_transitions_total",
			Help:      "Total managed-service workflow transitions by action and result.",
		},
		[]string{"action", "result"},
	)

	// AddOnOpsTotal counts add-on attach/detach operations.
	AddOnOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rankpilot",
			Name:      "addon_ops_total",
			Help:      "Total add-on attach/detach operations by result.",
		},
		[]string{"op", "result"},
	)

	// ActiveEventSubscribers tracks connected operator event-feed clients.
	ActiveEventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rankpilot",
			Name:      "active_event_subscribers",
			Help:      "Number of currently connected operator event-feed clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rankpilot", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rankpilot", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rankpilot", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rankpilot", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rankpilot", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rankpilot", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BillingCallsTotal,
		BillingCallDuration,
		BillingSyncFailures,
		PlanChangesTotal,
		ManagedServiceTransitions,
		AddOnOpsTotal,
		ActiveEventSubscribers,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
