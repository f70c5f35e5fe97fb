package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carry bounded cardinality only (no per-player or per-session
// labels), the same DoS-avoidance rule the teacher's own metrics follow.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nethercore_tick_duration_seconds",
		Help:    "Time spent stepping one rollback tick",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033},
	})

	rollbackFrames = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nethercore_rollback_frames",
		Help:    "Frame count rewound on a rollback",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})

	stallTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nethercore_stall_total",
		Help: "Total ticks the scheduler stalled awaiting a late peer",
	})

	desyncTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nethercore_desync_total",
		Help: "Total desync-check hash mismatches detected",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nethercore_sessions_active",
		Help: "Currently running sessions",
	})

	joinRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nethercore_nchs_join_rejected_total",
		Help: "Total NCHS join requests rejected, by reason",
	}, []string{"reason"}) // bounded: the JoinReject reason enum

	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nethercore_event_log_total",
		Help: "Total telemetry events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nethercore_event_log_dropped_total",
		Help: "Telemetry events dropped due to rate limiting or buffer full",
	})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nethercore_inspector_connections_active",
		Help: "Currently connected inspector websocket clients",
	})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nethercore_http_request_duration_seconds",
		Help:    "HTTP request latency for the control surface",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nethercore_http_requests_total",
		Help: "Total HTTP requests against the control surface",
	}, []string{"method", "endpoint", "status"})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nethercore_connection_rejected_total",
		Help: "Connections rejected by a rate limiter or origin check",
	}, []string{"reason"}) // bounded: "rate_limit", "origin", "ws_limit"
)

// RecordTick records one scheduler step's duration.
func RecordTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }

// RecordRollback records the frame count of one rollback.
func RecordRollback(frames int) { rollbackFrames.Observe(float64(frames)) }

// RecordStall increments the stall counter.
func RecordStall() { stallTotal.Inc() }

// RecordDesync increments the desync counter.
func RecordDesync() { desyncTotal.Inc() }

// SetSessionsActive sets the active-session gauge.
func SetSessionsActive(n int) { sessionsActive.Set(float64(n)) }

// RecordJoinRejected increments the join-reject counter for a bounded reason.
func RecordJoinRejected(reason string) { joinRejectedTotal.WithLabelValues(reason).Inc() }

// RecordConnectionRejected increments the connection-reject counter.
// reason must be one of: "rate_limit", "origin", "ws_limit".
func RecordConnectionRejected(reason string) { connectionRejected.WithLabelValues(reason).Inc() }

// eventLogSynced holds the totals passed to the previous RecordEventLogStats
// call.
var eventLogSynced struct{ total, dropped uint64 }

// RecordEventLogStats syncs the event log's running totals (as reported by
// EventLog.Stats) into the corresponding counters. Prometheus counters only
// move forward, so each call adds the increase since the previous call.
func RecordEventLogStats(total, dropped uint64) {
	if total > eventLogSynced.total {
		eventLogTotal.Add(float64(total - eventLogSynced.total))
		eventLogSynced.total = total
	}
	if dropped > eventLogSynced.dropped {
		eventLogDropped.Add(float64(dropped - eventLogSynced.dropped))
		eventLogSynced.dropped = dropped
	}
}

// RecordRequest records one HTTP request's latency and status.
func RecordRequest(method, endpoint string, status int, d time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(d.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// SetInspectorConnections sets the connected-client gauge.
func SetInspectorConnections(n int) { wsConnectionsActive.Set(float64(n)) }
