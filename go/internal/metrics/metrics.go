package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	ConnectionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_connections_opened_total",
			Help: "Total WebSocket connections accepted",
		},
	)

	ConnectionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_connections_closed_total",
			Help: "Total WebSocket connections detached",
		},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultroom_events_broadcast_total",
			Help: "Total events fanned out to room members",
		},
		[]string{"type"},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_broadcasts_dropped_total",
			Help: "Total broadcasts dropped because the fan-out channel was full",
		},
	)

	BroadcastFanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consultroom_broadcast_fanout_seconds",
			Help:    "Time to fan one event out to a room",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// Room metrics
	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_messages_relayed_total",
			Help: "Total messages appended and broadcast",
		},
	)

	MessagesDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_messages_deduplicated_total",
			Help: "Total duplicate message ids dropped as retries",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consultroom_rooms_active",
			Help: "Rooms currently held in memory",
		},
	)

	// Delivery metrics
	StatusUpdatesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultroom_status_updates_applied_total",
			Help: "Total delivery status transitions applied and relayed",
		},
		[]string{"status"},
	)

	StatusUpdatesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_status_updates_rejected_total",
			Help: "Total delivery status transitions dropped (unknown message or backward move)",
		},
	)

	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_sessions_started_total",
			Help: "Total consultation sessions started",
		},
	)

	// Archive metrics
	ArchiveQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consultroom_archive_queue_depth",
			Help: "Messages waiting for asynchronous persistence",
		},
	)

	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultroom_archive_writes_total",
			Help: "Total archive store writes",
		},
		[]string{"driver", "outcome"},
	)

	ArchiveDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_archive_dropped_total",
			Help: "Total messages dropped because the archive queue was full",
		},
	)

	// Bridge metrics
	BridgePublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultroom_bridge_publishes_total",
			Help: "Total events published to the NATS bridge",
		},
		[]string{"outcome"},
	)

	BridgeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consultroom_bridge_dropped_total",
			Help: "Total events dropped because the bridge queue was full",
		},
	)
)
