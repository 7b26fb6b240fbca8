// Package metrics provides Prometheus instrumentation for the social core.
// It exposes gauges for connection and pool membership, counters for match
// outcomes and message fan-out, and a histogram for relay latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of registered live connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "social_connections_active",
		Help: "Current number of registered live connections",
	})

	// PoolSize tracks the current number of users opted into random matching.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "social_live_pool_size",
		Help: "Current number of users in the live match pool",
	})

	// MatchesTotal counts formed matches, labeled by kind: "pair" or "group".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "social_matches_total",
		Help: "Total number of random matches formed",
	}, []string{"kind"})

	// MatchMissesTotal counts match requests that found no qualifying candidate.
	MatchMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "social_match_misses_total",
		Help: "Total number of match requests with no qualifying candidate",
	}, []string{"kind"})

	// MessagesRelayed counts per-participant delivery outcomes, labeled by
	// result: "pushed" (live connection) or "offline" (handed to push notify).
	MessagesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "social_messages_relayed_total",
		Help: "Per-participant message delivery outcomes",
	}, []string{"result"})

	// RelayLatency records the time to fan a stored message out to all
	// connected participants.
	RelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "social_relay_latency_seconds",
		Help:    "Fan-out latency per stored message",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// PoolExpiredTotal counts live pool entries purged for staleness.
	PoolExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "social_live_pool_expired_total",
		Help: "Total number of live pool entries purged for staleness",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		PoolSize,
		MatchesTotal,
		MatchMissesTotal,
		MessagesRelayed,
		RelayLatency,
		PoolExpiredTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
