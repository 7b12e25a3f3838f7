package store

import (
	"fmt"
	"sort"
	"strings"

	"immopipe/internal/models"
)

// renameTable maps legacy input column names to the canonical schema. It is
// applied only at the ingestion boundary; everything downstream speaks
// canonical names. Columns resolving to neither a rename nor a canonical
// name are dropped.
var renameTable = map[string]string{
	// Parser output
	"complete_address": "address",
	"city_name":        "city",
	"property_type":    "type",
	"surface_area":     "surface",
	"mutation_date":    "sale_date",

	// Bulk geocoding output
	"zipcode": "postal_code",

	// Raw DPE columns from older dataset exports
	"dpe_classe_consommation_energie":     "dpe_energy_class",
	"dpe_classe_estimation_ges":           "dpe_ges_class",
	"dpe_consommation_energie":            "energy_consumption",
	"dpe_estimation_ges":                  "dpe_ges_estimate",
	"dpe__score":                          "dpe_score",
	"dpe_annee_construction":              "construction_year",
	"dpe_surface_thermique_lot":           "thermal_surface",
	"dpe_tr002_type_batiment_description": "building_type",
	"dpe_date_etablissement_dpe":          "dpe_date",

	// Valuation columns from older exports
	"final_price_m2":    "final_price_per_m2",
	"total_growth_rate": "growth_rate",
}

var requiredColumns = []string{"address", "city", "sale_date"}

// resolveColumn returns the canonical name for an input column, or "" when
// the column has no place in the schema.
func resolveColumn(name string) string {
	if canonical, ok := renameTable[name]; ok {
		return canonical
	}
	if models.IsCanonicalColumn(name) {
		return name
	}
	return ""
}

// normalizeTable converts a raw table into canonical records. It fails
// without side effects when a required column cannot be resolved from the
// header or a sale date is present but unparseable; lesser cell-level
// problems are logged and nulled.
func (s *Store) normalizeTable(table *Table) ([]*models.PropertyRecord, error) {
	resolved := make(map[string]bool, len(table.Header))
	for _, name := range table.Header {
		if canonical := resolveColumn(name); canonical != "" {
			resolved[canonical] = true
		}
	}

	var missing []string
	for _, required := range requiredColumns {
		if !resolved[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	records := make([]*models.PropertyRecord, 0, len(table.Rows))
	for i, row := range table.Rows {
		rec := &models.PropertyRecord{}
		for name, value := range row {
			canonical := resolveColumn(name)
			if canonical == "" || value == "" {
				continue
			}
			if canonical == "sale_date" {
				if _, err := models.ParseDate(value); err != nil {
					return nil, fmt.Errorf("row %d: invalid sale_date %q, expected dd/mm/yyyy", i+1, value)
				}
			}
			if err := rec.SetColumn(canonical, value); err != nil {
				s.logger.WithError(err).Warnf("Row %d: dropping unparseable %s value", i+1, canonical)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
