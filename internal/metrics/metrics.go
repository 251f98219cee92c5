// Package metrics provides Prometheus instrumentation for the messaging
// core. It exposes gauges for connection counts, counters for message and
// reaction throughput, and histograms for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts persisted messages, labeled by kind ("group", "dm").
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_messages_total",
		Help: "Total number of messages persisted",
	}, []string{"kind"})

	// DeletesTotal counts delete attempts, labeled by result ("ok", "denied",
	// "not_found").
	DeletesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_deletes_total",
		Help: "Total number of message delete attempts",
	}, []string{"result"})

	// ReactionsTotal counts reaction toggles, labeled by outcome ("added",
	// "removed").
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_reactions_total",
		Help: "Total number of reaction toggles",
	}, []string{"outcome"})

	// TypingEventsTotal counts typing start/stop relays.
	TypingEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_typing_events_total",
		Help: "Total number of typing events relayed",
	})

	// FanoutLatency records the time from event receipt to the last
	// participant publish, in seconds.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messaging_fanout_latency_seconds",
		Help:    "Time from event receipt to fan-out completion",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// FanoutRecipients records how many participants each event reached.
	FanoutRecipients = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messaging_fanout_recipients",
		Help:    "Number of participants targeted per fan-out",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		DeletesTotal,
		ReactionsTotal,
		TypingEventsTotal,
		FanoutLatency,
		FanoutRecipients,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
