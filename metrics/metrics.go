package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide collectors, registered on the default registry and exposed by
// the health server's /metrics endpoint.
var (
	ExplorerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midcurve_explorer_requests_total",
		Help: "Outbound block-explorer requests by action and outcome.",
	}, []string{"action", "outcome"})

	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midcurve_rpc_requests_total",
		Help: "Outbound chain RPC requests by method and outcome.",
	}, []string{"method", "outcome"})

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midcurve_retry_attempts_total",
		Help: "HTTP retry attempts by provider.",
	}, []string{"provider"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midcurve_cache_hits_total",
		Help: "Distributed cache hits by key prefix.",
	}, []string{"prefix"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midcurve_cache_misses_total",
		Help: "Distributed cache misses by key prefix.",
	}, []string{"prefix"})

	SchedulerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "midcurve_scheduler_queue_depth",
		Help: "Tasks waiting in a provider scheduler queue.",
	}, []string{"provider"})

	LedgerRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "midcurve_ledger_rebuilds_total",
		Help: "Full ledger rebuilds by outcome.",
	}, []string{"outcome"})

	LedgerEntriesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "midcurve_ledger_entries_written_total",
		Help: "Ledger entries persisted.",
	})

	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "midcurve_ledger_rebuild_duration_seconds",
		Help:    "Wall-clock duration of full ledger rebuilds.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	})
)
