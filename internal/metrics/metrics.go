// Package metrics provides Prometheus metrics for simrelay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "simrelay"

// Command outcomes.
const (
	CommandForwarded   = "forwarded"
	CommandDropped     = "dropped"
	CommandRateLimited = "rate_limited"
	CommandInvalid     = "invalid"
)

// Client rejection reasons.
const (
	RejectMaxClients = "max_clients"
	RejectHandshake  = "handshake"
)

// Metrics holds all Prometheus metrics for simrelay. All methods are safe
// to call on a nil receiver, which disables recording.
type Metrics struct {
	Registry *prometheus.Registry

	linkConnected     prometheus.Gauge
	linkConnects      prometheus.Counter
	linkDisconnects   prometheus.Counter
	framesTotal       prometheus.Counter
	framesDropped     *prometheus.CounterVec
	deliveriesTotal   prometheus.Counter
	broadcastDuration prometheus.Histogram
	clientsActive     prometheus.Gauge
	clientConnections prometheus.Counter
	clientSendErrors  prometheus.Counter
	clientRejections  *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec
	clientMessages    *prometheus.CounterVec
}

// New creates a new Metrics instance with a custom Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		linkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_connected",
			Help:      "Whether the simulation link is connected (1) or not (0).",
		}),

		linkConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_connects_total",
			Help:      "Total successful connections to the simulation.",
		}),

		linkDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_disconnects_total",
			Help:      "Total times an established simulation connection was lost.",
		}),

		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total telemetry frames decoded from the simulation and broadcast.",
		}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total simulation lines discarded by the decoder, by reason.",
		}, []string{"reason"}),

		deliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total telemetry messages successfully delivered to clients.",
		}),

		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time taken to fan one telemetry frame out to all clients, in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),

		clientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_active",
			Help:      "Number of currently attached clients.",
		}),

		clientConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_connections_total",
			Help:      "Total clients that attached to the relay.",
		}),

		clientSendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_send_errors_total",
			Help:      "Total clients dropped because a send to them failed.",
		}),

		clientRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_rejections_total",
			Help:      "Total client connections refused, by reason.",
		}, []string{"reason"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total game commands received from clients, by outcome.",
		}, []string{"result"}),

		clientMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_messages_total",
			Help:      "Total messages received from clients, by envelope type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.linkConnected,
		m.linkConnects,
		m.linkDisconnects,
		m.framesTotal,
		m.framesDropped,
		m.deliveriesTotal,
		m.broadcastDuration,
		m.clientsActive,
		m.clientConnections,
		m.clientSendErrors,
		m.clientRejections,
		m.commandsTotal,
		m.clientMessages,
	)

	return m
}

// LinkConnected records a successful simulation connect.
func (m *Metrics) LinkConnected() {
	if m == nil {
		return
	}
	m.linkConnected.Set(1)
	m.linkConnects.Inc()
}

// LinkDisconnected records the loss of the simulation connection.
func (m *Metrics) LinkDisconnected() {
	if m == nil {
		return
	}
	m.linkConnected.Set(0)
	m.linkDisconnects.Inc()
}

// FrameDropped records a simulation line the decoder discarded.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// FrameBroadcast records one telemetry frame fanned out to delivered
// clients in the given time.
func (m *Metrics) FrameBroadcast(delivered int, seconds float64) {
	if m == nil {
		return
	}
	m.framesTotal.Inc()
	m.deliveriesTotal.Add(float64(delivered))
	m.broadcastDuration.Observe(seconds)
}

// ClientConnected records a client attaching.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.clientsActive.Inc()
	m.clientConnections.Inc()
}

// ClientDisconnected records a client leaving. failed is true when the
// client was dropped because a send to it failed.
func (m *Metrics) ClientDisconnected(failed bool) {
	if m == nil {
		return
	}
	m.clientsActive.Dec()
	if failed {
		m.clientSendErrors.Inc()
	}
}

// ClientRejected records a refused client connection.
func (m *Metrics) ClientRejected(reason string) {
	if m == nil {
		return
	}
	m.clientRejections.WithLabelValues(reason).Inc()
}

// ClientMessage records an inbound client message by envelope type.
// Unknown types are folded into "other" to bound label cardinality.
func (m *Metrics) ClientMessage(typ string) {
	if m == nil {
		return
	}
	switch typ {
	case "game_command", "invalid":
	default:
		typ = "other"
	}
	m.clientMessages.WithLabelValues(typ).Inc()
}

// Command records the outcome of a game command.
func (m *Metrics) Command(result string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(result).Inc()
}
