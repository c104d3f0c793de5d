// Package metrics provides Prometheus metrics collection for the multiplayer server.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lowroll/dicehall/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors exposed by the server. Gauges track
// live state (rooms, participants, connections); counters track cumulative
// admin-visible events (timeouts, bot advances, join failures, moderation
// actions) per §4.11.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Room/session gauges
	RoomsActive        *prometheus.GaugeVec // labeled by status, difficulty
	ParticipantsActive prometheus.Gauge
	StreamConnections  prometheus.Gauge

	// Turn engine counters
	TurnTimeouts    *prometheus.CounterVec // labeled by phase
	BotAdvances     *prometheus.CounterVec // labeled by difficulty, action
	RollsCommitted  prometheus.Counter
	ScoresCommitted prometheus.Counter

	// Lifecycle counters
	JoinFailures      *prometheus.CounterVec // labeled by reason
	HeartbeatPrunes   prometheus.Counter
	ModerationActions *prometheus.CounterVec // labeled by action

	// Stream hub
	BackpressureDisconnects prometheus.Counter

	// Store
	StoreOperations *prometheus.CounterVec // labeled by backend, op, status

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// A nil registerer skips registration, useful for tests that construct many
// instances in the same process.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_requests_in_flight", Help: "Current number of HTTP requests being processed"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "errors_total", Help: "Total number of errors"},
			[]string{"service", "type", "operation"},
		),
		RoomsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "rooms_active", Help: "Current number of rooms by status"},
			[]string{"status", "difficulty"},
		),
		ParticipantsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "participants_active", Help: "Current number of participants across all rooms"},
		),
		StreamConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "stream_connections", Help: "Current number of open streaming connections"},
		),
		TurnTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "turn_timeouts_total", Help: "Total number of turn-timeout auto-advances"},
			[]string{"phase"},
		),
		BotAdvances: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bot_advances_total", Help: "Total number of bot-driven turn actions"},
			[]string{"difficulty", "action"},
		),
		RollsCommitted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "rolls_committed_total", Help: "Total number of server-authoritative rolls committed"},
		),
		ScoresCommitted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "scores_committed_total", Help: "Total number of score selections committed"},
		),
		JoinFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "join_failures_total", Help: "Total number of room join failures"},
			[]string{"reason"},
		),
		HeartbeatPrunes: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "heartbeat_prunes_total", Help: "Total number of participants pruned for stale heartbeats"},
		),
		ModerationActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "moderation_actions_total", Help: "Total number of moderation actions taken"},
			[]string{"action"},
		),
		BackpressureDisconnects: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "backpressure_disconnects_total", Help: "Total number of subscribers disconnected for backpressure"},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "store_operations_total", Help: "Total number of store operations"},
			[]string{"backend", "operation", "status"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "service_uptime_seconds", Help: "Service uptime in seconds"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "service_info", Help: "Service information"},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.RoomsActive,
			m.ParticipantsActive,
			m.StreamConnections,
			m.TurnTimeouts,
			m.BotAdvances,
			m.RollsCommitted,
			m.ScoresCommitted,
			m.JoinFailures,
			m.HeartbeatPrunes,
			m.ModerationActions,
			m.BackpressureDisconnects,
			m.StoreOperations,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// SetRoomsActive sets the current room gauge for a status/difficulty pair.
func (m *Metrics) SetRoomsActive(status, difficulty string, count int) {
	m.RoomsActive.WithLabelValues(status, difficulty).Set(float64(count))
}

// RecordTurnTimeout increments the turn-timeout counter for a phase.
func (m *Metrics) RecordTurnTimeout(phase string) {
	m.TurnTimeouts.WithLabelValues(phase).Inc()
}

// RecordBotAdvance increments the bot-advance counter.
func (m *Metrics) RecordBotAdvance(difficulty, action string) {
	m.BotAdvances.WithLabelValues(difficulty, action).Inc()
}

// RecordJoinFailure increments the join-failure counter for a reason.
func (m *Metrics) RecordJoinFailure(reason string) {
	m.JoinFailures.WithLabelValues(reason).Inc()
}

// RecordModerationAction increments the moderation-action counter.
func (m *Metrics) RecordModerationAction(action string) {
	m.ModerationActions.WithLabelValues(action).Inc()
}

// RecordStoreOperation increments the store-operation counter.
func (m *Metrics) RecordStoreOperation(backend, operation, status string) {
	m.StoreOperations.WithLabelValues(backend, operation, status).Inc()
}

// UpdateUptime sets the uptime gauge relative to startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight request gauge.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight request gauge.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, creating one if necessary.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
