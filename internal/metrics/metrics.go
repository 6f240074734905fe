// Package metrics declares the Prometheus collectors for the message core:
// pipeline outcomes and queue depth, store operations, cache lookups and
// retention cleanup. Collectors are registered with the default registry in
// init and exposed by the HTTP adapter at /metrics.
//
// Label sets are small and fixed (result names, operation names) to keep
// cardinality bounded.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PipelineResults counts terminal pipeline outcomes by result.
	PipelineResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_pipeline_results_total",
			Help: "Pipeline outcomes by result (success, failed, filtered, queued, rejected).",
		},
		[]string{"result"},
	)

	// PipelineRetries counts scheduled retries.
	PipelineRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcore_pipeline_retries_total",
			Help: "Number of transient failures scheduled for retry.",
		},
	)

	// QueueDepth is the number of queued entries.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcore_pipeline_queue_depth",
			Help: "Current number of queued messages.",
		},
	)

	// FailedSetSize is the number of entries waiting for retry.
	FailedSetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcore_pipeline_failed_set_size",
			Help: "Current number of messages waiting for retry.",
		},
	)

	// ProcessDuration observes the time spent processing one entry.
	ProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatcore_pipeline_process_duration_seconds",
			Help:    "Duration of processing a single queued message.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StoreOps counts store operations by operation and result.
	StoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_store_operations_total",
			Help: "Store operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// StoreOpDuration observes store operation latency by operation.
	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcore_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"op"},
	)

	// CacheLookups counts cache lookups by outcome (hit|miss).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_cache_lookups_total",
			Help: "Message cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	// CleanupDeleted counts messages removed by retention cleanup.
	CleanupDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_history_cleanup_deleted_total",
			Help: "Messages removed by retention cleanup, by strategy.",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		PipelineResults, PipelineRetries, QueueDepth, FailedSetSize, ProcessDuration,
		StoreOps, StoreOpDuration, CacheLookups, CleanupDeleted,
	)
}

// ObserveStoreOp records one store operation.
func ObserveStoreOp(op, result string, start time.Time) {
	StoreOps.WithLabelValues(op, result).Inc()
	StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}
