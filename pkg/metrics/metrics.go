// Package metrics exposes the converter's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesIngested counts pages durably written, labeled by outcome.
	PagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zimdict",
		Name:      "pages_ingested_total",
		Help:      "Pages written to the output database.",
	}, []string{"outcome"})

	// EntriesSkipped counts directory entries rejected by the selection
	// policy, labeled by the rejecting rule.
	EntriesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zimdict",
		Name:      "entries_skipped_total",
		Help:      "Directory entries skipped by the selection policy.",
	}, []string{"reason"})

	// DefinitionsExtracted counts extracted definition rows.
	DefinitionsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zimdict",
		Name:      "definitions_extracted_total",
		Help:      "Definition rows produced by the extractor.",
	})

	// RelationsExtracted counts extracted relation rows.
	RelationsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zimdict",
		Name:      "relations_extracted_total",
		Help:      "Relation rows produced by the extractor.",
	})

	// ExtractionErrors counts per-page extraction failures, labeled by kind.
	ExtractionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zimdict",
		Name:      "extraction_errors_total",
		Help:      "Pages that failed extraction.",
	}, []string{"kind"})

	// BatchesCommitted counts committed write transactions.
	BatchesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zimdict",
		Name:      "batches_committed_total",
		Help:      "Write transactions committed.",
	})

	// QuarantinedPages counts pages retried individually after a batch
	// constraint failure, labeled by final outcome.
	QuarantinedPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zimdict",
		Name:      "quarantined_pages_total",
		Help:      "Pages retried one-by-one after a failed batch.",
	}, []string{"outcome"})

	// InflightTasks gauges extraction tasks currently in the pipeline.
	InflightTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zimdict",
		Name:      "inflight_tasks",
		Help:      "Extraction tasks submitted but not yet written.",
	})
)
