// Package metrics provides Prometheus instrumentation for the exhibition
// relay. It exposes gauges for connection and hall occupancy counts, counters
// for relayed event throughput, and a histogram for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "expo_relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// HallOccupancy tracks the current number of players per hall.
	HallOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "expo_relay_hall_occupancy",
		Help: "Current number of players in each hall",
	}, []string{"hall"})

	// EventsTotal counts relayed events, labeled by kind: "join", "update",
	// "leave", "hall_chat", "booth_chat", or "dropped" for events discarded
	// as malformed or rate limited.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expo_relay_events_total",
		Help: "Total number of relayed events",
	}, []string{"kind"})

	// FanoutLatency records the time from receiving a client frame to
	// publishing it on the backbone, in seconds.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "expo_relay_fanout_latency_seconds",
		Help:    "Time from client frame receipt to backbone publish",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		HallOccupancy,
		EventsTotal,
		FanoutLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
