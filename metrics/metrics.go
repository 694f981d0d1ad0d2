// Package metrics exposes journal-go's own operational instrumentation
// as Prometheus collectors. It is ambient instrumentation about the
// repository's internals, not a feature of the journal format itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "journal_indexing_queue_depth",
	Help: "Number of indexing requests currently queued.",
})

var EnqueueDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "journal_indexing_enqueue_drops_total",
	Help: "Indexing requests dropped because the queue was full.",
})

var CacheResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "journal_indexing_cache_results_total",
	Help: "Hybrid cache lookups by outcome (hit_memory for any hit, memory or disk; miss).",
}, []string{"outcome"})

var IndexDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "journal_indexing_duration_seconds",
	Help:    "Time to build a single file's index.",
	Buckets: prometheus.DefBuckets,
}, []string{"outcome"})

var RotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "journal_rotations_total",
	Help: "Log file rotations performed, by prefix.",
}, []string{"prefix"})

var RetentionDeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "journal_retention_deletions_total",
	Help: "Files deleted by retention, by outcome (ok, error).",
}, []string{"outcome"})

var HistogramBucketsComplete = promauto.NewCounter(prometheus.CounterOpts{
	Name: "journal_histogram_buckets_complete_total",
	Help: "Histogram buckets that reached the Complete state.",
})
