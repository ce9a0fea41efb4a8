// Package metrics holds the Prometheus collectors of the roll service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	// Rolls counts finished roll requests by outcome
	// (awarded, empty_pool, fault).
	Rolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loot",
			Subsystem: "roll",
			Name:      "requests_total",
			Help:      "Total number of roll requests that passed admission, by outcome.",
		},
		[]string{"outcome"},
	)

	// RollDuration observes the in-memory roll body, admission excluded.
	RollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "loot",
			Subsystem: "roll",
			Name:      "duration_seconds",
			Help:      "Duration of admitted roll requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	// Dropped counts silently rejected requests by reason.
	Dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loot",
			Subsystem: "roll",
			Name:      "dropped_total",
			Help:      "Roll requests dropped without a response.",
		},
		[]string{"reason"},
	)

	// PityConflicts counts version conflicts seen while committing pity.
	PityConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "loot",
			Subsystem: "pity",
			Name:      "commit_conflicts_total",
			Help:      "Pity commits retried because the stored version moved.",
		},
	)

	// CatalogFallbacks counts provider lookups replaced by defaults.
	CatalogFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loot",
			Subsystem: "catalog",
			Name:      "fallbacks_total",
			Help:      "Catalog or crate lookups that failed and were replaced by a default.",
		},
		[]string{"op"},
	)

	// RareEvents counts rare-event handling by stage and result.
	RareEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loot",
			Subsystem: "rare",
			Name:      "events_total",
			Help:      "Rare events by stage (publish, receive, subscribe) and result.",
		},
		[]string{"stage", "result"},
	)

	// Jobs counts background jobs by name and result (ok, failed, dropped).
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loot",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background jobs by name and result.",
		},
		[]string{"job", "result"},
	)

	// BufferPool counts result buffer acquisitions by source (reused, allocated).
	BufferPool = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loot",
			Subsystem: "buffers",
			Name:      "acquired_total",
			Help:      "Result buffers handed to rolls, by source.",
		},
		[]string{"source"},
	)
)

func init() {
	Registry.MustRegister(
		Rolls,
		RollDuration,
		Dropped,
		PityConflicts,
		CatalogFallbacks,
		RareEvents,
		Jobs,
		BufferPool,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
