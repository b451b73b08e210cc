// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for IndexingJobsTotal.
const (
	OutcomeProcessed    = "processed"
	OutcomeSucceeded    = "succeeded"
	OutcomeSkipped      = "skipped"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	IndexingJobsTotal      *prometheus.CounterVec
	BackfillDocumentsTotal *prometheus.CounterVec
	BackfillBatchesTotal   prometheus.Counter
	QueueDeadLetters       prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		IndexingJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexing_jobs_total",
				Help: "Total indexing jobs by entity type and outcome.",
			},
			[]string{"entity_type", "outcome"},
		),
		BackfillDocumentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backfill_documents_total",
				Help: "Total documents pushed by backfill runs, by status (indexed, failed).",
			},
			[]string{"status"},
		),
		BackfillBatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backfill_batches_total",
				Help: "Total bulk batches issued by backfill runs.",
			},
		),
		QueueDeadLetters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexing_queue_dead_letters",
				Help: "Number of dead-letter records currently stored.",
			},
		),
	}

	prometheus.MustRegister(
		m.IndexingJobsTotal,
		m.BackfillDocumentsTotal,
		m.BackfillBatchesTotal,
		m.QueueDeadLetters,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
