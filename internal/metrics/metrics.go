package metrics

import (
	"github.com/blukai/circlesync/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "circlesync"

// Metrics is what the lobby server reports about itself. every instance
// owns a registry so that tests can run several servers side by side.
type Metrics struct {
	Registry *prometheus.Registry

	Received    *prometheus.CounterVec
	Sent        *prometheus.CounterVec
	Malformed   prometheus.Counter
	UnknownPeer prometheus.Counter
	SendErrors  prometheus.Counter
	Connections *prometheus.CounterVec
	Sessions    prometheus.Gauge
	Iterations  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Decoded messages received, by kind.",
		}, []string{"kind"}),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages handed to the transport, by kind. A broadcast counts once.",
		}, []string{"kind"}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Received datagrams that could not be decoded.",
		}),
		UnknownPeer: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_unknown_peer_total",
			Help:      "Messages dropped because the sender had no session.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Transport send failures.",
		}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Transport lifecycle events, by type.",
		}, []string{"event"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Currently logged in peers.",
		}),
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Dispatch loop iterations (one flush each).",
		}),
	}

	m.Registry.MustRegister(
		m.Received,
		m.Sent,
		m.Malformed,
		m.UnknownPeer,
		m.SendErrors,
		m.Connections,
		m.Sessions,
		m.Iterations,
	)

	return m
}

func (m *Metrics) IncReceived(kind protocol.Kind) { m.Received.WithLabelValues(kind.String()).Inc() }
func (m *Metrics) IncSent(kind protocol.Kind)     { m.Sent.WithLabelValues(kind.String()).Inc() }
func (m *Metrics) IncConnection(event string)     { m.Connections.WithLabelValues(event).Inc() }
