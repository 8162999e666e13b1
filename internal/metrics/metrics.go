package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "routeagent",
		Name:      "observers_connected",
		Help:      "Currently connected observers.",
	})

	EnvelopesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routeagent",
		Name:      "envelopes_sent_total",
		Help:      "Envelopes handed to observer transports, by name and delivery mode.",
	}, []string{"name", "mode"})

	EnvelopesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routeagent",
		Name:      "envelopes_dropped_total",
		Help:      "Envelopes dropped before reaching an observer, by reason.",
	}, []string{"reason"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routeagent",
		Name:      "commands_total",
		Help:      "Inbound observer commands, by command and result code.",
	}, []string{"command", "result"})

	AdvanceCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routeagent",
		Name:      "advance_cycles_total",
		Help:      "Waypoint advancement cycles, by outcome.",
	}, []string{"outcome"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "routeagent",
		Name:      "tick_duration_seconds",
		Help:      "Scheduler tick duration.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})

	TimelineSinkErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "routeagent",
		Name:      "timeline_sink_errors_total",
		Help:      "Timeline entries the sink failed to record.",
	})
)

// Delivery modes for EnvelopesSentTotal.
const (
	ModeBroadcast = "broadcast"
	ModeUnicast   = "unicast"
)

// IncDropped records a dropped envelope with a concrete reason.
func IncDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EnvelopesDroppedTotal.WithLabelValues(reason).Inc()
}

// IncCommand records one handled command. Callers must not pass raw
// observer-supplied names here; label cardinality has to stay bounded.
func IncCommand(command, result string) {
	if command == "" {
		command = "unknown"
	}
	CommandsTotal.WithLabelValues(command, result).Inc()
}
