// Package telemetry holds the Prometheus metrics for the Lockbox server.
//
// Metrics are registered against the default registry and served by the
// side-channel HTTP server started in main:
//
//	GET http://<host>:<METRICS_PORT>/metrics
//
// HTTP metrics are labelled with the chi route pattern, never the raw URL,
// so project names and secret keys never become label values.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockbox_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// CredentialClassificationsTotal counts classification outcomes by tier.
// A rising unknown rate usually means a client is using a revoked token.
var CredentialClassificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lockbox_credential_classifications_total",
		Help: "Total number of bearer credential classifications, by resulting tier.",
	},
	[]string{"tier"},
)

// Exposure metrics.
//
// ExposureFallbackScansTotal fires whenever a response reached the exposure
// guard without annotations and the full-vault comparison scan ran. Every
// increment means some response producer forgot to annotate; alert on
// increase(lockbox_exposure_fallback_scans_total[1h]) > 0.
var (
	ExposureFallbackScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockbox_exposure_fallback_scans_total",
			Help: "Total number of full-vault exposure scans run for unannotated responses.",
		},
	)

	ExposuresDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockbox_exposures_detected_total",
			Help: "Total number of confidential values found unmasked in responses, by kind.",
		},
		[]string{"kind"},
	)
)

// Audit metrics. Audit writes are best effort; these counters are the only
// trace of entries that never reached the database.
var (
	AuditEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockbox_audit_events_dropped_total",
			Help: "Total number of audit events dropped because the queue was full or closed.",
		},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lockbox_audit_write_failures_total",
			Help: "Total number of audit events that failed to persist.",
		},
	)
)

// RateLimitedTotal counts requests refused by the per-credential limiter.
var RateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lockbox_rate_limited_total",
		Help: "Total number of requests refused by the rate limiter, by credential tier.",
	},
	[]string{"tier"},
)

// PanicsRecoveredTotal counts handler panics turned into 500 responses.
var PanicsRecoveredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lockbox_http_panics_recovered_total",
		Help: "Total number of handler panics recovered, by route pattern.",
	},
	[]string{"path"},
)

// DeviceRegistrationsTotal counts new device rows by initial status.
var DeviceRegistrationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lockbox_device_registrations_total",
		Help: "Total number of new device registrations, by initial status.",
	},
	[]string{"status"},
)

// DBOpenConnections tracks connections held by the pgx pool. It is sampled
// by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "lockbox_db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples pool statistics every interval until ctx is done.
func StartDBStatsCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat := pool.Stat()
				DBOpenConnections.Set(float64(stat.TotalConns()))
				slog.Debug("db pool stats", "total", stat.TotalConns(), "idle", stat.IdleConns())
			}
		}
	}()
}
