// Package metrics holds the process-wide Prometheus collectors. They register
// with the default registry, which /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message sources as recorded by MessagesEmitted.
const (
	SourceHistory = "history"
	SourceLive    = "live"
	SourceLocal   = "local"
)

var (
	// Sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_sessions_active",
			Help: "Room sessions currently open",
		},
	)

	SessionOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_session_opens_total",
			Help: "Room sessions created by the registry",
		},
	)

	// Stream
	MessagesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_messages_emitted_total",
			Help: "Messages added to a room stream",
		},
		[]string{"source"}, // history, live, local
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_duplicates_dropped_total",
			Help: "Messages suppressed because their dedup key was already emitted",
		},
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_decode_failures_total",
			Help: "Bus payloads dropped as malformed",
		},
	)

	SendResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_send_results_total",
			Help: "Outgoing sends by outcome",
		},
		[]string{"result"}, // ok, delivery_degraded, store_degraded, failed, invalid
	)

	// Bus
	BusReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_bus_reconnects_total",
			Help: "Bus reconnections after a connection loss",
		},
	)

	BusPublish = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_bus_publish_total",
			Help: "Bus publish attempts by result",
		},
		[]string{"result"}, // ok, not_connected, rejected
	)

	// History
	HistoryOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_history_op_duration_seconds",
			Help:    "History store call latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"backend", "op", "result"},
	)
)
