// Package processor runs the enrichment pipeline over a frame of property
// records: geocode each address, then search the energy-diagnostic datasets
// applicable to its sale date. Producers fan out under a counting semaphore;
// a single consumer owns the frame and persists it in batches.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"immopipe/internal/dpe"
	"immopipe/internal/geocoding"
	"immopipe/internal/metrics"
	"immopipe/internal/models"
	"immopipe/internal/store"
)

const (
	defaultMaxInFlight   = 500
	defaultSaveBatchSize = 100
	defaultProgressEvery = 100
)

// Geocoder resolves an address to coordinates and administrative metadata.
// A nil result without error means the address could not be located.
type Geocoder interface {
	Locate(ctx context.Context, address, city string) (*geocoding.Location, error)
}

// Searcher finds a validated energy diagnostic for an address. A nil result
// without error means no acceptable match exists.
type Searcher interface {
	Search(ctx context.Context, address, city string, saleDate time.Time, coords *orb.Point) (*dpe.Result, error)
}

// Sink persists the frame between batches.
type Sink interface {
	MergeRecords(records []*models.PropertyRecord) (store.MergeResult, error)
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	MaxInFlight   int // concurrent producer goroutines
	SaveBatchSize int // enriched records per incremental flush
	ResultsBuffer int // results channel capacity, default 2x batch size
	ProgressEvery int // records between progress log lines
	Logger        *logrus.Logger
}

// Engine enriches property records with geocoding and DPE data.
type Engine struct {
	geocoder Geocoder
	searcher Searcher
	sink     Sink
	logger   *logrus.Logger

	maxInFlight   int
	saveBatchSize int
	resultsBuffer int
	progressEvery int
}

// update is one producer result, applied to the frame by the consumer only.
type update struct {
	index    int
	location *geocoding.Location
	dpe      *dpe.Result
}

// NewEngine creates an enrichment engine.
func NewEngine(geocoder Geocoder, searcher Searcher, sink Sink, opts Options) *Engine {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.SaveBatchSize <= 0 {
		opts.SaveBatchSize = defaultSaveBatchSize
	}
	if opts.ResultsBuffer <= 0 {
		opts.ResultsBuffer = 2 * opts.SaveBatchSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Engine{
		geocoder:      geocoder,
		searcher:      searcher,
		sink:          sink,
		logger:        opts.Logger,
		maxInFlight:   opts.MaxInFlight,
		saveBatchSize: opts.SaveBatchSize,
		resultsBuffer: opts.ResultsBuffer,
		progressEvery: opts.ProgressEvery,
	}
}

// Enrich processes the frame and reports overall success. Individual record
// failures never abort the run; cancellation stops dispatch, drains what is
// in flight and flushes completed work. The frame is mutated in place.
func (e *Engine) Enrich(ctx context.Context, frame []*models.PropertyRecord) bool {
	start := resumeIndex(frame)
	total := len(frame) - start
	if total <= 0 {
		e.logger.Info("All records already enriched, nothing to do")
		return true
	}
	if start > 0 {
		e.logger.Infof("Resuming enrichment at record %d of %d", start+1, len(frame))
	}

	results := make(chan update, e.resultsBuffer)
	sem := make(chan struct{}, e.maxInFlight)

	go func() {
		var wg sync.WaitGroup
	dispatch:
		for i := start; i < len(frame); i++ {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				e.logger.Warn("Enrichment cancelled, draining records in flight")
				break dispatch
			}
			wg.Add(1)
			go func(idx int, rec *models.PropertyRecord) {
				defer wg.Done()
				defer func() { <-sem }()
				results <- e.process(ctx, idx, rec)
			}(i, frame[i])
		}
		wg.Wait()
		close(results)
	}()

	processed, found, pending := 0, 0, 0
	success := true
	for u := range results {
		rec := frame[u.index]
		if u.location != nil {
			applyLocation(rec, u.location)
			metrics.GeocodeHits.Inc()
		}
		if u.dpe != nil {
			applyDPE(rec, u.dpe)
			found++
			metrics.DPEFound.Inc()
		}
		if u.location != nil || u.dpe != nil {
			pending++
		}
		processed++
		metrics.RecordsProcessed.Inc()

		if pending >= e.saveBatchSize {
			if err := e.flush(frame); err != nil {
				success = false
			}
			pending = 0
		}
		if processed%e.progressEvery == 0 {
			e.logger.Infof("Progress: %d/%d records (%.1f%%), DPE found for %d (%.1f%%)",
				processed, total, 100*float64(processed)/float64(total),
				found, 100*float64(found)/float64(processed))
		}
	}

	if pending > 0 {
		if err := e.flush(frame); err != nil {
			success = false
		}
	}
	if ctx.Err() != nil {
		success = false
	}

	e.logger.WithFields(logrus.Fields{
		"processed": processed,
		"dpe_found": found,
	}).Info("Enrichment finished")
	return success
}

func (e *Engine) flush(frame []*models.PropertyRecord) error {
	if _, err := e.sink.MergeRecords(frame); err != nil {
		e.logger.WithError(err).Error("Failed to persist enrichment batch")
		return err
	}
	metrics.BatchFlushes.Inc()
	return nil
}

// process enriches a single record. Geocoding failure is not terminal: the
// DPE search still runs, just without the geographic filter.
func (e *Engine) process(ctx context.Context, index int, rec *models.PropertyRecord) update {
	u := update{index: index}

	var coords *orb.Point
	if rec.HasCoordinates() {
		coords = &orb.Point{*rec.Longitude, *rec.Latitude}
	} else {
		loc, err := e.geocoder.Locate(ctx, rec.Address, rec.City)
		if err != nil {
			e.logger.WithError(err).Debugf("Geocoding failed for %s", rec.Address)
		}
		if loc != nil {
			u.location = loc
			coords = &orb.Point{loc.Longitude, loc.Latitude}
		}
	}

	saleDate, err := models.ParseDate(rec.SaleDate)
	if err != nil {
		e.logger.Debugf("No usable sale date for %s, skipping DPE search", rec.Address)
		return u
	}

	result, err := e.searcher.Search(ctx, rec.Address, rec.City, saleDate, coords)
	if err != nil {
		e.logger.WithError(err).Debugf("DPE search failed for %s", rec.Address)
	}
	u.dpe = result
	return u
}

// resumeIndex returns the index after the last record that already carries
// energy-diagnostic data, so an interrupted run restarts where it stopped.
func resumeIndex(frame []*models.PropertyRecord) int {
	for i := len(frame) - 1; i >= 0; i-- {
		if frame[i].HasDPEData() {
			return i + 1
		}
	}
	return 0
}

func applyLocation(rec *models.PropertyRecord, loc *geocoding.Location) {
	lat, lon := loc.Latitude, loc.Longitude
	rec.Latitude, rec.Longitude = &lat, &lon
	if loc.PostalCode != "" {
		postal := loc.PostalCode
		rec.PostalCode = &postal
	}
	if loc.InseeCode != "" {
		insee := loc.InseeCode
		rec.InseeCode = &insee
	}
	if loc.Region != "" {
		region := loc.Region
		rec.Region = &region
	}
}

func applyDPE(rec *models.PropertyRecord, result *dpe.Result) {
	rec.DPEEnergyClass = result.EnergyClass
	rec.DPEGESClass = result.GESClass
	rec.EnergyConsumption = result.EnergyConsumption
	rec.DPEGESEstimate = result.GESEstimate
	rec.DPEScore = result.Score
	rec.DPEGeoScore = result.GeoScore
	rec.ConstructionYear = result.ConstructionYear
	rec.ThermalSurface = result.ThermalSurface
	rec.BuildingType = result.BuildingType
	rec.DPEDate = result.Date
}
