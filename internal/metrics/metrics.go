// Package metrics exposes prometheus collectors for the presence client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "presence"

// Drop reasons for inbound frames.
const (
	DropMalformed    = "malformed"
	DropUnknownTopic = "unknown_topic"
)

// Metrics groups the client collectors.
type Metrics struct {
	connected     prometheus.Gauge
	connects      *prometheus.CounterVec
	framesSent    *prometheus.CounterVec
	framesRecv    *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	queueDropped  prometheus.Counter
	topics        prometheus.Gauge
	notifications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "Whether the presence socket is connected.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the socket by event.",
		}, []string{"event"}),
		framesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded frames received by event.",
		}, []string{"event"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason.",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting for a connection.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Queued messages discarded because the queue was full.",
		}),
		topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topics",
			Help:      "Canvases currently joined.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Observer notifications by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connected,
			m.connects,
			m.framesSent,
			m.framesRecv,
			m.framesDropped,
			m.queueDepth,
			m.queueDropped,
			m.topics,
			m.notifications,
		)
	}
	return m
}

// SetConnected records the connection state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// ConnectAttempt counts a dial by result ("ok", "error", "no_trust").
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

// FrameSent counts an outbound frame.
func (m *Metrics) FrameSent(event string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(event).Inc()
}

// FrameReceived counts a decoded inbound frame.
func (m *Metrics) FrameReceived(event string) {
	if m == nil {
		return
	}
	m.framesRecv.WithLabelValues(event).Inc()
}

// FrameDropped counts an inbound frame that was ignored.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the outbound queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// QueueDropped counts a message discarded from a full queue.
func (m *Metrics) QueueDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

// SetTopics records the number of joined canvases.
func (m *Metrics) SetTopics(n int) {
	if m == nil {
		return
	}
	m.topics.Set(float64(n))
}

// Notification counts an observer notification ("join", "update", "leave").
func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// Connected exposes the connected gauge for tests and custom exporters.
func (m *Metrics) Connected() prometheus.Gauge {
	return m.connected
}

// QueueDepth exposes the queue depth gauge.
func (m *Metrics) QueueDepth() prometheus.Gauge {
	return m.queueDepth
}
