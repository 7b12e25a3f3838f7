// Package dpe searches the ADEME open-data datasets for the energy
// diagnostic matching a property. Several dataset generations coexist, each
// covering its own date range, so lookups walk an ordered endpoint table.
package dpe

import (
	"sort"
	"time"
)

const baseURL = "https://data.ademe.fr/data-fair/api/v1/datasets/"

// Endpoint is one ADEME dataset path with its validity window and priority.
// A zero Start or End means the window is open on that side. Select and Sort
// are passed through to the data-fair API when set; the v2 datasets use
// different column names and are queried unprojected.
type Endpoint struct {
	Name     string
	Start    time.Time
	End      time.Time
	Priority int
	Select   []string
	Sort     string
}

// Applicable reports whether the endpoint covers the given sale date.
func (e Endpoint) Applicable(saleDate time.Time) bool {
	if !e.Start.IsZero() && saleDate.Before(e.Start) {
		return false
	}
	if !e.End.IsZero() && saleDate.After(e.End) {
		return false
	}
	return true
}

var dpeFranceSelect = []string{
	"geo_adresse", "geo_score", "date_etablissement_dpe",
	"classe_consommation_energie", "classe_estimation_ges",
	"consommation_energie", "estimation_ges",
	"tr002_type_batiment_description", "annee_construction",
	"surface_thermique_lot", "latitude", "longitude",
}

var endpoints = []Endpoint{
	{
		Name:     "dpe-france/lines",
		End:      time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC),
		Priority: 1,
		Select:   dpeFranceSelect,
		Sort:     "-geo_score,-date_etablissement_dpe",
	},
	{
		Name:     "dpe-v2-logements-existants/lines",
		Start:    time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC),
		Priority: 2,
	},
	{
		Name:     "dpe-v2-logements-neufs/lines",
		Start:    time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC),
		Priority: 3,
	},
	{
		Name:     "audit-opendata/lines",
		Start:    time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		Priority: 4,
	},
}

// ApplicableEndpoints returns the endpoints covering saleDate, ordered by
// priority.
func ApplicableEndpoints(saleDate time.Time) []Endpoint {
	var applicable []Endpoint
	for _, e := range endpoints {
		if e.Applicable(saleDate) {
			applicable = append(applicable, e)
		}
	}
	sort.Slice(applicable, func(i, j int) bool {
		return applicable[i].Priority < applicable[j].Priority
	})
	return applicable
}
