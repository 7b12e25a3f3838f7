// Package metrics declares the pipeline's prometheus instruments. Everything
// registers on the default registry and is served by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for outbound request counting.
const (
	OutcomeOK     = "ok"
	OutcomeNoData = "no_data"
	OutcomeError  = "error"
)

var (
	// RecordsProcessed counts records that went through the enrichment engine.
	RecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "immopipe_records_processed_total",
		Help: "Records processed by the enrichment engine.",
	})

	// DPEFound counts records enriched with a validated energy diagnostic.
	DPEFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "immopipe_dpe_found_total",
		Help: "Records enriched with a validated DPE match.",
	})

	// GeocodeHits counts successful geocoding lookups, cached ones included.
	GeocodeHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "immopipe_geocode_hits_total",
		Help: "Successful geocoding lookups.",
	})

	// HTTPRequests counts outbound API calls by final disposition.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "immopipe_http_requests_total",
		Help: "Outbound API requests by outcome.",
	}, []string{"outcome"})

	// HTTPRetries counts retried outbound attempts.
	HTTPRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "immopipe_http_retries_total",
		Help: "Retried outbound request attempts.",
	})

	// BatchFlushes counts incremental dataset writes during enrichment.
	BatchFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "immopipe_batch_flushes_total",
		Help: "Incremental dataset flushes.",
	})

	// PipelineRunning is 1 while a pipeline run is active.
	PipelineRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "immopipe_pipeline_running",
		Help: "Whether a pipeline run is currently active.",
	})

	// PipelineRuns counts completed pipeline runs by result.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "immopipe_pipeline_runs_total",
		Help: "Completed pipeline runs by result.",
	}, []string{"result"})
)
