// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recruitment"

var (
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "passes_total",
		Help:      "Sync passes by stream and result.",
	}, []string{"stream", "result"})

	SyncPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a single stream pass.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stream"})

	SyncRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "rows_written_total",
		Help:      "Rows written by a sync stream, split by operation.",
	}, []string{"stream", "op"})

	SyncConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "conflicts_total",
		Help:      "Same-timestamp conflicts recorded.",
	}, []string{"stream"})

	SheetRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sheets",
		Name:      "retries_total",
		Help:      "Retried spreadsheet API calls.",
	}, []string{"op"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by resource and outcome (hit, miss, error).",
	}, []string{"resource", "outcome"})
)
