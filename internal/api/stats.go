package api

import (
	"math"
	"sort"

	"immopipe/internal/models"
)

// PropertyStats aggregates market figures over a selection of records.
type PropertyStats struct {
	Count             int            `json:"count"`
	AveragePrice      float64        `json:"average_price"`
	MinPrice          int            `json:"min_price"`
	MaxPrice          int            `json:"max_price"`
	AveragePricePerM2 float64        `json:"average_price_per_m2"`
	MedianPricePerM2  float64        `json:"median_price_per_m2"`
	ByType            map[string]int `json:"by_type"`
}

// computeStats derives aggregate figures. Records without a price are
// counted but excluded from the price aggregates; the per-m2 aggregates
// additionally need a positive surface.
func computeStats(records []models.PropertyRecord) PropertyStats {
	stats := PropertyStats{Count: len(records), ByType: make(map[string]int)}

	var priceSum, perM2Sum float64
	var priced int
	var perM2 []float64
	for _, rec := range records {
		if rec.Type != "" {
			stats.ByType[rec.Type]++
		}
		if rec.Price == nil {
			continue
		}
		priceSum += float64(*rec.Price)
		priced++
		if stats.MinPrice == 0 || *rec.Price < stats.MinPrice {
			stats.MinPrice = *rec.Price
		}
		if *rec.Price > stats.MaxPrice {
			stats.MaxPrice = *rec.Price
		}
		if v, ok := rec.PricePerM2(); ok {
			perM2Sum += v
			perM2 = append(perM2, v)
		}
	}

	if priced > 0 {
		stats.AveragePrice = round2(priceSum / float64(priced))
	}
	if len(perM2) > 0 {
		stats.AveragePricePerM2 = round2(perM2Sum / float64(len(perM2)))
		stats.MedianPricePerM2 = round2(median(perM2))
	}
	return stats
}

func median(values []float64) float64 {
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
