// Package pipeline orchestrates a full processing run over the dataset:
// enrichment with geocoding and energy diagnostics, growth-rate estimation,
// persistence and a completion notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"immopipe/internal/estimator"
	"immopipe/internal/metrics"
	"immopipe/internal/models"
	"immopipe/internal/notify"
	"immopipe/internal/store"
)

// ErrRunActive is returned when a run is requested while another one is
// still in progress.
var ErrRunActive = errors.New("a pipeline run is already in progress")

// Dataset is the store surface the runner works against.
type Dataset interface {
	Snapshot() []*models.PropertyRecord
	NormalizeAndMerge(table *store.Table) (store.MergeResult, error)
	MergeRecords(records []*models.PropertyRecord) (store.MergeResult, error)
}

// Enricher fills geocoding and energy-diagnostic fields in place and
// reports whether the pass completed.
type Enricher interface {
	Enrich(ctx context.Context, frame []*models.PropertyRecord) bool
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	Processed       int             `json:"processed"`
	Enriched        int             `json:"enriched"`
	DPEFound        int             `json:"dpe_found"`
	Estimation      estimator.Stats `json:"estimation"`
	Updated         int             `json:"updated"`
	Added           int             `json:"added"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// Status describes the runner for the status endpoint.
type Status struct {
	Running bool      `json:"running"`
	LastRun *RunStats `json:"last_run,omitempty"`
}

// Runner coordinates the enrichment engine, the estimator and the store.
// Only one run may be active at a time.
type Runner struct {
	dataset   Dataset
	enricher  Enricher
	estimator *estimator.Estimator
	notifier  *notify.Service
	logger    *logrus.Logger

	mu      sync.Mutex
	running bool
	lastRun *RunStats
}

// NewRunner creates a pipeline runner. The notifier may be nil.
func NewRunner(dataset Dataset, enricher Enricher, est *estimator.Estimator, notifier *notify.Service, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		dataset:   dataset,
		enricher:  enricher,
		estimator: est,
		notifier:  notifier,
		logger:    logger,
	}
}

// Status reports whether a run is active and the outcome of the last one.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Running: r.running, LastRun: r.lastRun}
}

// Import reads a raw listings CSV and merges it into the dataset.
func (r *Runner) Import(path string) (store.MergeResult, error) {
	table, err := store.ReadTable(path)
	if err != nil {
		return store.MergeResult{}, fmt.Errorf("failed to read listings file: %w", err)
	}
	result, err := r.dataset.NormalizeAndMerge(table)
	if err != nil {
		return store.MergeResult{}, err
	}
	r.logger.WithFields(logrus.Fields{
		"file":    path,
		"rows":    result.TotalProcessed,
		"updated": result.Updated,
		"added":   result.Added,
	}).Info("Imported listings file")
	return result, nil
}

// Run executes a full pass over the stored dataset: enrich, rebuild growth
// rates, estimate and persist. Only one run at a time; a second call while
// active returns ErrRunActive. Partial enrichment is persisted by the
// engine's incremental flushes even when the run fails, so the next run
// resumes where this one stopped.
func (r *Runner) Run(ctx context.Context) (*RunStats, error) {
	if !r.tryStart() {
		return nil, ErrRunActive
	}
	metrics.PipelineRunning.Set(1)

	start := time.Now()
	stats := &RunStats{}
	defer func() {
		stats.DurationSeconds = time.Since(start).Seconds()
		metrics.PipelineRunning.Set(0)
		r.finish(stats)
	}()

	frame := r.dataset.Snapshot()
	stats.Processed = len(frame)
	if len(frame) == 0 {
		r.logger.Info("Dataset is empty, nothing to process")
		metrics.PipelineRuns.WithLabelValues("success").Inc()
		return stats, nil
	}
	r.logger.Infof("Starting pipeline run over %d records", len(frame))

	hadDPE := make([]bool, len(frame))
	hadCoords := make([]bool, len(frame))
	for i, rec := range frame {
		hadDPE[i] = rec.HasDPEData()
		hadCoords[i] = rec.HasCoordinates()
	}

	if ok := r.enricher.Enrich(ctx, frame); !ok {
		metrics.PipelineRuns.WithLabelValues("failure").Inc()
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("enrichment interrupted: %w", err)
		}
		return stats, errors.New("enrichment did not complete")
	}

	for i, rec := range frame {
		if !hadDPE[i] && rec.HasDPEData() {
			stats.DPEFound++
		}
		if (!hadDPE[i] && rec.HasDPEData()) || (!hadCoords[i] && rec.HasCoordinates()) {
			stats.Enriched++
		}
	}

	r.estimator.BuildGrowthRates(frame)
	stats.Estimation = r.estimator.EstimateAll(frame)

	merged, err := r.dataset.MergeRecords(frame)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("failure").Inc()
		return stats, fmt.Errorf("failed to persist pipeline results: %w", err)
	}
	stats.Updated = merged.Updated
	stats.Added = merged.Added

	elapsed := time.Since(start)
	metrics.PipelineRuns.WithLabelValues("success").Inc()
	r.logger.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"enriched":  stats.Enriched,
		"dpe_found": stats.DPEFound,
		"estimated": stats.Estimation.Estimated,
		"duration":  elapsed.Round(time.Second).String(),
	}).Info("Pipeline run finished")

	if r.notifier != nil {
		r.notifier.NotifyRunComplete(notify.RunReport{
			Processed: stats.Processed,
			DPEFound:  stats.DPEFound,
			Estimated: stats.Estimation.Estimated,
			Updated:   stats.Updated,
			Added:     stats.Added,
			Duration:  elapsed,
		})
	}
	return stats, nil
}

func (r *Runner) tryStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) finish(stats *RunStats) {
	r.mu.Lock()
	r.running = false
	r.lastRun = stats
	r.mu.Unlock()
}
