// Package metrics defines the prometheus collectors exposed by the
// server (an ambient concern per spec §9 Design Notes: "configuration
// loading, logging, metric emission [are] specified only by the hooks
// the core uses"). The scheduler and streams packages call into these
// hooks directly; nothing here performs scraping or serving, which is
// wired at the REST boundary.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueueDepth reports the current count of TestRecords in each state,
	// refreshed on every queueStatus-triggering mutation.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "testprobe",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of TestRecords currently in each state.",
	}, []string{"state"})

	// AdmittedConcurrency is the number of executions currently holding
	// an admission semaphore slot.
	AdmittedConcurrency = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "testprobe",
		Subsystem: "queue",
		Name:      "admitted_concurrency",
		Help:      "Number of tests currently admitted past the concurrency semaphore.",
	})

	// DecodeErrorsTotal counts consumer decode failures, labeled by topic.
	DecodeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Count of records a Consumer Stream could not decode and skipped.",
	}, []string{"topic"})

	// CommitBatchSize observes the number of offsets committed per batch.
	CommitBatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "testprobe",
		Subsystem: "consumer",
		Name:      "commit_batch_size",
		Help:      "Size of each offset-commit batch.",
		Buckets:   prometheus.LinearBuckets(1, 5, 10),
	}, []string{"topic"})

	// ProduceOutcomesTotal counts Ack/Nack replies, labeled by topic and
	// outcome.
	ProduceOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Subsystem: "producer",
		Name:      "outcomes_total",
		Help:      "Count of produce outcomes by topic and ack/nack.",
	}, []string{"topic", "outcome"})

	// TerminalTransitionsTotal counts TestRecord terminal transitions by
	// resulting state.
	TerminalTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Subsystem: "queue",
		Name:      "terminal_transitions_total",
		Help:      "Count of TestRecords reaching a terminal state, labeled by that state.",
	}, []string{"state"})
)

// Registry is the collector set the HTTP /metrics endpoint serves.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		QueueDepth,
		AdmittedConcurrency,
		DecodeErrorsTotal,
		CommitBatchSize,
		ProduceOutcomesTotal,
		TerminalTransitionsTotal,
	)
}
