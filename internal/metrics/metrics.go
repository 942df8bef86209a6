// Package metrics registers the Prometheus collectors the engine and its
// collaborators report into. It has no knowledge of chain semantics: pure
// counters, gauges, and histograms keyed by label, updated from the call
// sites that own the events being measured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PendingSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "censormon",
		Subsystem: "chainstate",
		Name:      "pending_set_size",
		Help:      "Number of transactions currently tracked as pending.",
	})

	FindingsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "censormon",
		Subsystem: "analyzer",
		Name:      "findings_emitted_total",
		Help:      "Total number of censorship findings emitted.",
	})

	BlockProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "censormon",
		Subsystem: "engine",
		Name:      "block_processing_duration_seconds",
		Help:      "Wall-clock time spent handling one newly canonical block, from fetch through ApplyBlock.",
		Buckets:   prometheus.DefBuckets,
	})

	NonceFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "censormon",
		Subsystem: "analyzer",
		Name:      "nonce_fetch_duration_seconds",
		Help:      "Wall-clock time spent resolving an unseen sender's nonce via GetNonceAt.",
		Buckets:   prometheus.DefBuckets,
	})

	SinkWriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "censormon",
		Subsystem: "sink",
		Name:      "write_errors_total",
		Help:      "Total number of failed Sink writes, by record kind.",
	}, []string{"kind"})
)

// ObservePendingSetSize reports the current size of the chainstate pending
// set. Call after every ApplyMempoolSnapshot/ApplyBlock that can change it.
func ObservePendingSetSize(n int) {
	PendingSetSize.Set(float64(n))
}

// RecordFindings increments the findings counter by the number of
// censorship findings a single Analyze call produced.
func RecordFindings(n int) {
	FindingsEmittedTotal.Add(float64(n))
}

// TimeBlockProcessing returns a function that records the elapsed time
// since start when called, intended for use with defer:
//
//	defer metrics.TimeBlockProcessing(time.Now())()
func TimeBlockProcessing(start time.Time) func() {
	return func() { BlockProcessingDuration.Observe(time.Since(start).Seconds()) }
}

// TimeNonceFetch mirrors TimeBlockProcessing for the GetNonceAt fetch the
// analyzer makes on a nonce-cache miss.
func TimeNonceFetch(start time.Time) func() {
	return func() { NonceFetchDuration.Observe(time.Since(start).Seconds()) }
}

// RecordSinkWriteError increments the sink write-error counter for the
// given record kind ("block", "transaction", or "finding").
func RecordSinkWriteError(kind string) {
	SinkWriteErrorsTotal.WithLabelValues(kind).Inc()
}
