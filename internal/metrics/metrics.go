// Package metrics exports the run's aggregate Counts as Prometheus
// counters.
//
// The promauto-registered package-level vars pattern is grounded on
// datastore/postgres/store_metrics.go in claircore.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/archivecore/archivecore"
)

var (
	readTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archivecore",
		Subsystem: "extract",
		Name:      "entries_read_total",
		Help:      "Regular-file archive entries seen across all processed inputs.",
	})
	skippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archivecore",
		Subsystem: "extract",
		Name:      "entries_skipped_total",
		Help:      "Entries dropped by size gating, the text gate, a non-regular tar entry type, or an invalid entry path.",
	})
	deduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archivecore",
		Subsystem: "extract",
		Name:      "entries_deduplicated_total",
		Help:      "Entries dropped by in-batch or cross-batch content-hash deduplication.",
	})
	writtenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archivecore",
		Subsystem: "extract",
		Name:      "entries_written_total",
		Help:      "Entries that produced a row in the columnar output.",
	})
)

// Observe adds one run's aggregate Counts to the package's Prometheus
// counters. Call it once per completed run (or, for a long-lived service
// embedding archivecore, once per batch of runs); Counts is not itself a
// point-in-time gauge, so Observe must never be called twice with the same
// totals.
func Observe(c archivecore.Counts) {
	readTotal.Add(float64(c.Read))
	skippedTotal.Add(float64(c.Skipped))
	deduplicatedTotal.Add(float64(c.Deduplicated))
	writtenTotal.Add(float64(c.Written))
}
