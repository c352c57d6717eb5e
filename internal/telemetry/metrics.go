// Package telemetry provides application-level observability for the audit service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<UAS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit write decisions: written, skipped by the classifier, failed inserts
//   - Retention purges and archives
//   - Report deliveries by trigger and outcome
//   - Audit entries forwarded to external sinks
//   - Inbound lifecycle events by source
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics labelled by method, route template, and status code.
// The path label holds the Gin route template to keep cardinality bounded.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit write metrics, recorded by the change recorders.
//
// AuditEntriesWrittenTotal and AuditEntriesSkippedTotal together give the
// classifier's accept ratio per change type:
//
//	sum by (change_type) (rate(audit_entries_written_total[1h]))
//	  / (sum by (change_type) (rate(audit_entries_written_total[1h])) + sum by (change_type) (rate(audit_entries_skipped_total[1h])))
//
// A non-zero rate of audit_insert_failures_total means audited changes are
// being lost and should page.
var (
	AuditEntriesWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_written_total",
			Help: "Total number of audit log entries written, by change type.",
		},
		[]string{"change_type"},
	)

	AuditEntriesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_skipped_total",
			Help: "Total number of lifecycle events the classifier declined to log, by change type.",
		},
		[]string{"change_type"},
	)

	AuditInsertFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_insert_failures_total",
			Help: "Total number of audit log inserts that failed at the storage layer.",
		},
	)
)

// Retention metrics, recorded by the retention job.
var (
	AuditEntriesPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_purged_total",
			Help: "Total number of audit log entries removed by retention purges.",
		},
	)

	AuditEntriesArchivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_archived_total",
			Help: "Total number of audit log entries copied to archive storage before purge.",
		},
	)
)

// AuditReportsSentTotal counts report delivery attempts. trigger is
// "scheduled", "manual" or "cli"; outcome is "sent", "no_recipients", "no_users"
// or "failed".
//
//	increase(audit_reports_sent_total{outcome="failed"}[1d]) > 0
var AuditReportsSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_reports_sent_total",
		Help: "Total number of audit report delivery attempts, by trigger and outcome.",
	},
	[]string{"trigger", "outcome"},
)

// AuditEntriesForwardedTotal counts entries copied to external sinks, by
// sink ("webhook" or "file") and outcome ("shipped" or "failed").
var AuditEntriesForwardedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_entries_forwarded_total",
		Help: "Total number of audit entries forwarded to external sinks, by sink and outcome.",
	},
	[]string{"sink", "outcome"},
)

// EventsReceivedTotal counts inbound lifecycle events by source ("redis" or
// "http") and event type.
var EventsReceivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "events_received_total",
		Help: "Total number of lifecycle events received, by source and event type.",
	},
	[]string{"source", "type"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
