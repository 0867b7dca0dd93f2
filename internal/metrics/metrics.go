package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	FixesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_fixes_received_total",
		Help: "Location fixes accepted by the ingest endpoint",
	})

	DBWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_db_write_failures_total",
		Help: "Failed writes to the primary store",
	}, []string{"table"})

	StateChannelDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_state_channel_drops_total",
		Help: "Fixes dropped because the live-state channel was full",
	})

	AlertChannelDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_alert_channel_drops_total",
		Help: "Alerts dropped because the publish channel was full",
	})

	StateWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_state_write_failures_total",
		Help: "Failed live-state cache updates",
	})

	LiveStateBypasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_live_state_bypass_marks_total",
		Help: "Assets marked to read the primary store because their cached position may be stale",
	})

	// Scheduler
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracking_sweep_duration_seconds",
		Help:    "Duration of scheduler sweeps",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_alerts_raised_total",
		Help: "Alerts committed to the alert log",
	}, []string{"kind"})

	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_alerts_suppressed_total",
		Help: "Alerts withheld by the dedup policy",
	}, []string{"kind"})

	SweepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_sweep_failures_total",
		Help: "Sweeps that could not list assets or commit alerts",
	}, []string{"sweep"})

	// Broadcast
	BroadcastLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_broadcast_loops",
		Help: "Per-asset broadcast loops currently running",
	})

	BroadcastObservers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_broadcast_observers",
		Help: "Observers subscribed across all assets",
	})

	BroadcastSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_broadcast_send_failures_total",
		Help: "Observer sends that failed and dropped the observer",
	})

	// HTTP
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracking_api_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// Redis breaker
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracking_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})
)

func RecordSweep(sweep string, duration time.Duration, err error) {
	SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	if err != nil {
		SweepFailures.WithLabelValues(sweep).Inc()
	}
}

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
