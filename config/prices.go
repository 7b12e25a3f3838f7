package config

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"immopipe/internal/models"
)

// LoadReferencePrices reads the reference price table. The file must carry
// city_name, property_type and price_per_m2 columns; zipcode is optional.
func LoadReferencePrices(path string) ([]models.ReferencePrice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference prices: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read reference prices: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reference prices file %s is empty", path)
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "﻿")
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"city_name", "property_type", "price_per_m2"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("reference prices missing required column: %s", required)
		}
	}

	var prices []models.ReferencePrice
	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		rec := records[rowIdx]
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		raw := get("price_per_m2")
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid price_per_m2 %q", rowIdx+1, raw)
		}
		prices = append(prices, models.ReferencePrice{
			CityName:     get("city_name"),
			Zipcode:      get("zipcode"),
			PropertyType: get("property_type"),
			PricePerM2:   price,
		})
	}
	return prices, nil
}
