// Package estimator projects historical sale prices to current market value.
// Growth rates are year-over-year changes of the mean price per m² observed
// per (city, property type), anchored to an external reference price for the
// configured anchor year.
package estimator

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"immopipe/internal/models"
)

// Status classifies the outcome of a single estimation.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusCurrentYear  Status = "CURRENT_YEAR"
	StatusNoReference  Status = "NO_REFERENCE"
	StatusNoGrowthRate Status = "NO_GROWTH_RATE"
	StatusError        Status = "ERROR"
)

// Stats aggregates estimation outcomes over a frame.
type Stats struct {
	Total        int `json:"total"`
	Estimated    int `json:"estimated"`
	CurrentYear  int `json:"current_year"`
	NoReference  int `json:"no_reference"`
	NoGrowthRate int `json:"no_growth_rate"`
	Errors       int `json:"errors"`
}

type priceKey struct {
	City string
	Type string
}

// growthTable holds the yearly mean prices per m² of one (city, type) group
// and the growth edges between consecutive known years, keyed by the earlier
// year of each pair.
type growthTable struct {
	means map[int]float64
	edges map[int]float64
}

// Estimator holds reference prices and derived growth tables. Each instance
// owns its state; build once, then estimate any number of records.
type Estimator struct {
	logger     *logrus.Logger
	anchorYear int

	referencePrices map[priceKey]float64
	cityAverages    map[string]float64
	growth          map[priceKey]*growthTable
}

// New builds an estimator from the reference price table. The anchor year is
// the year the reference prices describe.
func New(prices []models.ReferencePrice, anchorYear int, logger *logrus.Logger) *Estimator {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Estimator{
		logger:          logger,
		anchorYear:      anchorYear,
		referencePrices: make(map[priceKey]float64, len(prices)),
		cityAverages:    make(map[string]float64),
		growth:          make(map[priceKey]*growthTable),
	}

	citySums := make(map[string]float64)
	cityCounts := make(map[string]int)
	for _, p := range prices {
		e.referencePrices[priceKey{p.CityName, p.PropertyType}] = p.PricePerM2
		citySums[p.CityName] += p.PricePerM2
		cityCounts[p.CityName]++
	}
	for city, sum := range citySums {
		e.cityAverages[city] = sum / float64(cityCounts[city])
	}

	logger.Infof("Loaded %d reference prices covering %d cities", len(e.referencePrices), len(e.cityAverages))
	return e
}

// BuildGrowthRates derives the growth tables from historical records. Only
// records with a parseable sale date, a price and a positive surface
// contribute. When a reference price exists for a group it is injected as
// that group's anchor-year mean before the edges are computed.
func (e *Estimator) BuildGrowthRates(records []*models.PropertyRecord) {
	type accum struct {
		sum   map[int]float64
		count map[int]int
	}
	groups := make(map[priceKey]*accum)

	for _, rec := range records {
		if rec.Type != models.TypeApartment && rec.Type != models.TypeHouse {
			continue
		}
		year, err := rec.SaleYear()
		if err != nil {
			continue
		}
		pricePerM2, ok := rec.PricePerM2()
		if !ok {
			continue
		}
		key := priceKey{rec.City, rec.Type}
		g := groups[key]
		if g == nil {
			g = &accum{sum: make(map[int]float64), count: make(map[int]int)}
			groups[key] = g
		}
		g.sum[year] += pricePerM2
		g.count[year]++
	}

	e.growth = make(map[priceKey]*growthTable, len(groups))
	for key, g := range groups {
		table := &growthTable{means: make(map[int]float64, len(g.sum)), edges: make(map[int]float64)}
		for year, sum := range g.sum {
			table.means[year] = sum / float64(g.count[year])
		}
		if ref, ok := e.referencePrices[key]; ok {
			table.means[e.anchorYear] = ref
		}

		years := make([]int, 0, len(table.means))
		for year := range table.means {
			years = append(years, year)
		}
		sort.Ints(years)
		for i := 0; i+1 < len(years); i++ {
			from, to := years[i], years[i+1]
			if table.means[from] == 0 {
				e.logger.Warnf("Zero mean price for %s %s in %d, skipping growth edge", key.City, key.Type, from)
				continue
			}
			table.edges[from] = table.means[to]/table.means[from] - 1
		}
		e.growth[key] = table
	}

	e.logger.Infof("Calculated growth rates for %d city-type groups", len(e.growth))
}

// Estimate projects one record to the anchor year, writing estimated_price,
// final_price_per_m2 and growth_rate on success paths. Previous estimation
// output is cleared first so re-estimation never leaves stale values.
func (e *Estimator) Estimate(rec *models.PropertyRecord) Status {
	rec.EstimatedPrice = nil
	rec.FinalPricePerM2 = nil
	rec.GrowthRate = nil

	year, err := rec.SaleYear()
	if err != nil {
		e.logger.WithError(err).Debugf("Cannot estimate %s", rec.Address)
		return StatusError
	}

	if year >= e.anchorYear {
		if rec.Price == nil {
			return StatusError
		}
		rec.EstimatedPrice = roundToInt(float64(*rec.Price))
		if initial, ok := rec.PricePerM2(); ok {
			rec.FinalPricePerM2 = roundToInt(initial)
		}
		rec.GrowthRate = roundToFloat(0)
		return StatusCurrentYear
	}

	key := priceKey{rec.City, rec.Type}
	if _, ok := e.referencePrices[key]; !ok {
		cityAvg, ok := e.cityAverages[rec.City]
		if !ok {
			return StatusNoReference
		}
		return e.applyProjection(rec, cityAvg)
	}

	table, ok := e.growth[key]
	if !ok {
		return StatusNoGrowthRate
	}

	initial, ok := rec.PricePerM2()
	if !ok || initial <= 0 {
		return StatusError
	}
	projected := initial
	for y := year; y < e.anchorYear; y++ {
		if growth, ok := table.edges[y]; ok {
			projected *= 1 + growth
		}
	}
	return e.applyProjection(rec, projected)
}

// applyProjection writes the final price per m², the estimated price and the
// total growth percentage. Rounding happens only here.
func (e *Estimator) applyProjection(rec *models.PropertyRecord, finalPricePerM2 float64) Status {
	initial, ok := rec.PricePerM2()
	if !ok || initial <= 0 {
		return StatusError
	}
	rec.FinalPricePerM2 = roundToInt(finalPricePerM2)
	rec.EstimatedPrice = roundToInt(finalPricePerM2 * *rec.Surface)
	rec.GrowthRate = roundToFloat((finalPricePerM2/initial - 1) * 100)
	return StatusSuccess
}

// EstimateAll estimates every record in the frame and reports aggregate
// counts. Individual failures never abort the pass.
func (e *Estimator) EstimateAll(records []*models.PropertyRecord) Stats {
	stats := Stats{Total: len(records)}
	for _, rec := range records {
		switch e.Estimate(rec) {
		case StatusSuccess:
			stats.Estimated++
		case StatusCurrentYear:
			stats.CurrentYear++
		case StatusNoReference:
			stats.NoReference++
		case StatusNoGrowthRate:
			stats.NoGrowthRate++
		case StatusError:
			stats.Errors++
		}
	}
	e.logger.WithFields(logrus.Fields{
		"total":          stats.Total,
		"estimated":      stats.Estimated,
		"current_year":   stats.CurrentYear,
		"no_reference":   stats.NoReference,
		"no_growth_rate": stats.NoGrowthRate,
		"errors":         stats.Errors,
	}).Info("Price estimation finished")
	return stats
}

func roundToInt(v float64) *int {
	n := int(math.Round(v))
	return &n
}

func roundToFloat(v float64) *float64 {
	r := math.Round(v)
	return &r
}
