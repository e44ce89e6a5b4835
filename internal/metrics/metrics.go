package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tasksync"
)

// Connection state values reported by the ConnectionState gauge.
const (
	StateDisconnected = 0
	StateConnecting   = 1
	StateConnected    = 2
)

// Metrics holds the Prometheus collectors for one sync client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	ConnectionState   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	ConnectsTotal     prometheus.Counter

	// Message metrics
	EnvelopesSent     *prometheus.CounterVec
	EnvelopesReceived *prometheus.CounterVec
	ParseErrors       prometheus.Counter
	EchoesIgnored     prometheus.Counter

	// Queue metrics
	QueueDepth       prometheus.Gauge
	DeliveryFailures *prometheus.CounterVec
	DrainDuration    prometheus.Histogram

	// Conflict metrics
	ConflictsDetected   *prometheus.CounterVec
	ConflictsResolved   *prometheus.CounterVec
	ConflictsUnresolved prometheus.Gauge

	// Presence
	OnlineUsers prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state (0 disconnected, 1 connecting, 2 connected)",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		ConnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of successfully opened channels",
		}),
		EnvelopesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes written to the channel by kind and result",
		}, []string{"kind", "result"}),
		EnvelopesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Envelopes read from the channel by kind",
		}, []string{"kind"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Inbound messages dropped because they failed to parse",
		}),
		EchoesIgnored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echoes_ignored_total",
			Help:      "Inbound envelopes ignored because they carry the local actor id",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending outbound queue items",
		}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Queue items dropped after exhausting their retry budget",
		}, []string{"operation"}),
		DrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Duration of one queue drain batch",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		ConflictsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Conflicts detected by kind",
		}, []string{"kind"}),
		ConflictsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_resolved_total",
			Help:      "Conflicts resolved by choice",
		}, []string{"choice"}),
		ConflictsUnresolved: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conflicts_unresolved",
			Help:      "Conflicts waiting for a decision",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Collaborators currently known to be online",
		}),
	}
}

// SetConnectionState records the current connection state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
	if state == StateConnected {
		m.ConnectsTotal.Inc()
	}
}

// RecordReconnectAttempt counts a scheduled reconnect.
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// RecordSend counts an outbound envelope.
func (m *Metrics) RecordSend(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.EnvelopesSent.WithLabelValues(kind, result).Inc()
}

// RecordReceive counts an inbound envelope.
func (m *Metrics) RecordReceive(kind string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(kind).Inc()
}

// RecordParseError counts a dropped inbound message.
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordEchoIgnored counts a self-originated envelope.
func (m *Metrics) RecordEchoIgnored() {
	if m == nil {
		return
	}
	m.EchoesIgnored.Inc()
}

// SetQueueDepth records the pending queue size.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordDeliveryFailure counts a terminal delivery failure.
func (m *Metrics) RecordDeliveryFailure(operation string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(operation).Inc()
}

// ObserveDrain records the duration of a drain batch.
func (m *Metrics) ObserveDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.DrainDuration.Observe(d.Seconds())
}

// RecordConflictDetected counts a new conflict.
func (m *Metrics) RecordConflictDetected(kind string) {
	if m == nil {
		return
	}
	m.ConflictsDetected.WithLabelValues(kind).Inc()
}

// RecordConflictResolved counts a resolution.
func (m *Metrics) RecordConflictResolved(choice string) {
	if m == nil {
		return
	}
	m.ConflictsResolved.WithLabelValues(choice).Inc()
}

// SetUnresolvedConflicts records the pending conflict count.
func (m *Metrics) SetUnresolvedConflicts(n int) {
	if m == nil {
		return
	}
	m.ConflictsUnresolved.Set(float64(n))
}

// SetOnlineUsers records the presence count.
func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}
