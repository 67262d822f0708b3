package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns every Prometheus series the service exports.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Dialogue
	sessionsStarted    *prometheus.CounterVec
	sessionsFinished   *prometheus.CounterVec
	turnsTotal         *prometheus.CounterVec
	turnDuration       prometheus.Histogram
	interruptionsTotal *prometheus.CounterVec

	// Arbitration
	conflictsDetected *prometheus.CounterVec
	resolutionsTotal  *prometheus.CounterVec

	// Oracle
	oracleCallsTotal   *prometheus.CounterVec
	oracleCallDuration *prometheus.HistogramVec
}

// NewCollector registers every series with the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in
// tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		sessionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dialogue_sessions_started_total",
				Help:      "Dialogue sessions created",
			},
			[]string{"strategy"},
		),
		sessionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dialogue_sessions_finished_total",
				Help:      "Dialogue sessions reaching a terminal status",
			},
			[]string{"status", "outcome"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dialogue_turns_total",
				Help:      "Dialogue turns by result",
			},
			[]string{"result"},
		),
		turnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dialogue_turn_duration_seconds",
				Help:      "End-to-end turn execution time",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		interruptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dialogue_interruptions_total",
				Help:      "Interruption events by reason",
			},
			[]string{"reason"},
		),
		conflictsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "arbitration_conflicts_detected_total",
				Help:      "Conflicts detected by type and severity",
			},
			[]string{"type", "severity"},
		),
		resolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "arbitration_resolutions_total",
				Help:      "Arbitration outcomes by strategy and type",
			},
			[]string{"strategy", "outcome_type"},
		),
		oracleCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_calls_total",
				Help:      "Reasoning oracle calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		oracleCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oracle_call_duration_seconds",
				Help:      "Reasoning oracle call latency",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
	}
}

// RecordHTTPRequest counts one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSessionStarted counts a new dialogue session.
func (c *Collector) RecordSessionStarted(strategy string) {
	c.sessionsStarted.WithLabelValues(strategy).Inc()
}

// RecordSessionFinished counts a terminal transition.
func (c *Collector) RecordSessionFinished(status, outcome string) {
	c.sessionsFinished.WithLabelValues(status, outcome).Inc()
}

// RecordTurn counts one turn attempt. result is "ok" or the error code.
func (c *Collector) RecordTurn(result string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(result).Inc()
	c.turnDuration.Observe(duration.Seconds())
}

// RecordInterruption counts one interruption event.
func (c *Collector) RecordInterruption(reason string) {
	c.interruptionsTotal.WithLabelValues(reason).Inc()
}

// RecordConflict counts one detected conflict.
func (c *Collector) RecordConflict(conflictType, severity string) {
	c.conflictsDetected.WithLabelValues(conflictType, severity).Inc()
}

// RecordResolution counts one arbitration outcome.
func (c *Collector) RecordResolution(strategy, outcomeType string) {
	c.resolutionsTotal.WithLabelValues(strategy, outcomeType).Inc()
}

// RecordOracleCall counts one oracle round trip.
func (c *Collector) RecordOracleCall(operation, status string, duration time.Duration) {
	c.oracleCallsTotal.WithLabelValues(operation, status).Inc()
	c.oracleCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
