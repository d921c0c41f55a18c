package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	FramesReceived   *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	EntriesAppended  prometheus.Counter
	StateTransitions *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	RelayConnections prometheus.Gauge
	RelayPublished   *prometheus.CounterVec
}{
	FramesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "frames_received_total",
		Help:      "Frames received from the channel by provenance.",
	}, []string{"provenance"}),

	FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped before reaching the log, by provenance and reason.",
	}, []string{"provenance", "reason"}),

	EntriesAppended: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "log_entries_appended_total",
		Help:      "Entries appended to the local message log.",
	}),

	StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "channel_state_transitions_total",
		Help:      "Channel state transitions by target state.",
	}, []string{"state"}),

	Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "outbound_dispatches_total",
		Help:      "Outbound dispatch attempts by mode and status.",
	}, []string{"mode", "status"}),

	DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatsync",
		Name:      "outbound_dispatch_duration_seconds",
		Help:      "Outbound dispatch latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}),

	RelayConnections: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsync",
		Name:      "relay_websocket_connections",
		Help:      "Websocket clients attached to the development relay.",
	}),

	RelayPublished: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "relay_published_total",
		Help:      "Messages published by the development relay by topic.",
	}, []string{"topic"}),
}
