package realtime

import (
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "studybuddy"

// Metrics collects realtime counters. A nil *Metrics is valid and records
// nothing, which is what tests and embedders without Prometheus use.
type Metrics struct {
	stateTransitions  *prometheus.CounterVec
	dialAttempts      prometheus.Counter
	dialFailures      prometheus.Counter
	framesReceived    *prometheus.CounterVec
	publishesSent     prometheus.Counter
	publishesDropped  prometheus.Counter
	malformedFrames   *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
	subscriptions     prometheus.Gauge
}

// NewMetrics creates and registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "state_transitions_total",
			Help:      "Number of connection state transitions by target state.",
		}, []string{"state"}),
		dialAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "dial_attempts_total",
			Help:      "Number of connection attempts.",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "dial_failures_total",
			Help:      "Number of failed connection attempts.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "frames_received_total",
			Help:      "Number of inbound frames by kind.",
		}, []string{"kind"}),
		publishesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "publishes_sent_total",
			Help:      "Number of publishes written to the link.",
		}),
		publishesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "publishes_dropped_total",
			Help:      "Number of publishes dropped because the session was not connected.",
		}),
		malformedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "malformed_frames_total",
			Help:      "Number of frames dropped because their payload could not be decoded.",
		}, []string{"topic_kind"}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "heartbeat_timeouts_total",
			Help:      "Number of links closed because incoming heart-beats stopped.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "subscriptions",
			Help:      "Number of live topic subscriptions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.stateTransitions,
			m.dialAttempts,
			m.dialFailures,
			m.framesReceived,
			m.publishesSent,
			m.publishesDropped,
			m.malformedFrames,
			m.heartbeatTimeouts,
			m.subscriptions,
		)
	}
	return m
}

func (m *Metrics) incStateTransition(s ConnectionState) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) incDialAttempt() {
	if m == nil {
		return
	}
	m.dialAttempts.Inc()
}

func (m *Metrics) incDialFailure() {
	if m == nil {
		return
	}
	m.dialFailures.Inc()
}

func (m *Metrics) incFrameReceived(kind InboundKind) {
	if m == nil {
		return
	}
	var label string
	switch kind {
	case InboundMessage:
		label = "message"
	case InboundHeartbeat:
		label = "heartbeat"
	case InboundError:
		label = "error"
	case InboundReceipt:
		label = "receipt"
	default:
		label = "unknown"
	}
	m.framesReceived.WithLabelValues(label).Inc()
}

func (m *Metrics) incPublishSent() {
	if m == nil {
		return
	}
	m.publishesSent.Inc()
}

func (m *Metrics) incPublishDropped() {
	if m == nil {
		return
	}
	m.publishesDropped.Inc()
}

func (m *Metrics) incMalformedFrame(topic string) {
	if m == nil {
		return
	}
	m.malformedFrames.WithLabelValues(topicKind(topic)).Inc()
}

func (m *Metrics) incHeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// topicKind replaces identifiers in a topic so labels stay low-cardinality:
// rooms/<uuid>/timer becomes rooms/{id}/timer.
func topicKind(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
