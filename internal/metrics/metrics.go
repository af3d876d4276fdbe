package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdigest_documents_submitted_total",
			Help: "Count of accepted document submissions",
		},
		[]string{"mode"},
	)

	DocumentsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdigest_documents_completed_total",
			Help: "Count of documents processed to completion",
		},
		[]string{"mode"},
	)

	DocumentsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docdigest_documents_failed_total",
			Help: "Count of documents that reached the error state",
		},
		[]string{"mode", "reason"},
	)

	EntriesRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docdigest_entries_retried_total",
			Help: "Count of queue entries left pending for redelivery",
		},
	)

	EntriesDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docdigest_entries_dead_lettered_total",
			Help: "Count of queue entries moved to the dead-letter stream",
		},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docdigest_processing_duration_seconds",
			Help:    "Wall time from claim to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"mode", "outcome"},
	)
)

// Register installs all collectors on the given registry; pass nil for the
// default registry. Call once per process.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		DocumentsSubmitted,
		DocumentsCompleted,
		DocumentsFailed,
		EntriesRetried,
		EntriesDeadLettered,
		ProcessingDuration,
	)
}
