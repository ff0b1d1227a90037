package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheEntries tracks the live entry count per cache.
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "knowte_cache_entries",
		Help: "Number of live entries in a session cache.",
	}, []string{"cache"})

	// CacheRemovals counts entries leaving a cache, by reason (deleted, expired, evicted).
	CacheRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowte_cache_removals_total",
		Help: "Entries removed from a session cache.",
	}, []string{"cache", "reason"})

	// GenerationStreams counts streamed generations by outcome.
	GenerationStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowte_generation_streams_total",
		Help: "Streamed generations by outcome (completed, failed, cancelled).",
	}, []string{"outcome"})

	// UpstreamErrors counts failed calls to the inference backend.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowte_upstream_errors_total",
		Help: "Failed inference backend calls by operation.",
	}, []string{"op"})
)
