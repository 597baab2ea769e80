// Package metrics defines the Prometheus collectors exported by a server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "realm"

// Packet dispatch outcomes.
const (
	PacketHandled   = "handled"
	PacketUnhandled = "unhandled"
	PacketRejected  = "rejected"
	PacketFailed    = "failed"
)

// Command dispatch outcomes.
const (
	CommandExecuted = "executed"
	CommandHelp     = "help"
	CommandDenied   = "denied"
)

// World server allocation outcomes.
const (
	AllocationExisting  = "existing"
	AllocationAllocated = "allocated"
	AllocationTimeout   = "timeout"
	AllocationFailed    = "failed"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// which keeps tests and tools that don't care about metrics simple.
type Metrics struct {
	Packets      *prometheus.CounterVec
	GameMessages prometheus.Counter
	Commands     *prometheus.CounterVec
	Allocations  *prometheus.CounterVec
	Connections  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total number of packets received, by dispatch outcome",
		}, []string{"outcome"}),
		GameMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_messages_total",
			Help:      "Total number of game messages published to subscribers",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands handled, by outcome",
		}, []string{"outcome"}),
		Allocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "world_allocations_total",
			Help:      "Total number of world server requests, by outcome",
		}, []string{"outcome"}),
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of currently connected clients",
		}),
	}
}

func (m *Metrics) PacketDispatched(outcome string) {
	if m != nil {
		m.Packets.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) GameMessagePublished() {
	if m != nil {
		m.GameMessages.Inc()
	}
}

func (m *Metrics) CommandHandled(outcome string) {
	if m != nil {
		m.Commands.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AllocationFinished(outcome string) {
	if m != nil {
		m.Allocations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.Connections.Dec()
	}
}
