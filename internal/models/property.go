package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the textual format of sale_date and dpe_date columns.
	DateLayout = "02/01/2006"
	// TimestampLayout is the format of the last_modified column.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Property types used for growth-rate grouping.
const (
	TypeApartment = "Appartement"
	TypeHouse     = "Maison"
)

// PropertyRecord is one real-estate transaction in the canonical schema.
// Nullable columns are pointers; nil means the value was never populated.
type PropertyRecord struct {
	UUID     string `json:"uuid"`
	Address  string `json:"address"`
	City     string `json:"city"`
	SaleDate string `json:"sale_date"`

	PostalCode *string  `json:"postal_code"`
	InseeCode  *string  `json:"insee_code"`
	Region     *string  `json:"region"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`

	Type        string   `json:"type"`
	Surface     *float64 `json:"surface"`
	Rooms       *int     `json:"rooms"`
	Price       *int     `json:"price"`
	AnalysisURL *string  `json:"analysis_url"`

	DPEEnergyClass    *string  `json:"dpe_energy_class"`
	DPEGESClass       *string  `json:"dpe_ges_class"`
	EnergyConsumption *float64 `json:"energy_consumption"`
	DPEGESEstimate    *float64 `json:"dpe_ges_estimate"`
	DPEScore          *float64 `json:"dpe_score"`
	DPEGeoScore       *float64 `json:"dpe_geo_score"`
	ConstructionYear  *int     `json:"construction_year"`
	ThermalSurface    *float64 `json:"thermal_surface"`
	BuildingType      *string  `json:"building_type"`
	DPEDate           *string  `json:"dpe_date"`

	EstimatedPrice  *int     `json:"estimated_price"`
	FinalPricePerM2 *int     `json:"final_price_per_m2"`
	GrowthRate      *float64 `json:"growth_rate"`

	LastModified string `json:"last_modified"`
}

// Columns is the canonical column set in persisted order.
var Columns = []string{
	"uuid",
	"address",
	"city",
	"sale_date",
	"postal_code",
	"insee_code",
	"region",
	"latitude",
	"longitude",
	"type",
	"surface",
	"rooms",
	"price",
	"analysis_url",
	"dpe_energy_class",
	"dpe_ges_class",
	"energy_consumption",
	"dpe_ges_estimate",
	"dpe_score",
	"dpe_geo_score",
	"construction_year",
	"thermal_surface",
	"building_type",
	"dpe_date",
	"estimated_price",
	"final_price_per_m2",
	"growth_rate",
	"last_modified",
}

var numericColumns = map[string]bool{
	"latitude":           true,
	"longitude":          true,
	"surface":            true,
	"rooms":              true,
	"price":              true,
	"energy_consumption": true,
	"dpe_ges_estimate":   true,
	"dpe_score":          true,
	"dpe_geo_score":      true,
	"construction_year":  true,
	"thermal_surface":    true,
	"estimated_price":    true,
	"final_price_per_m2": true,
	"growth_rate":        true,
}

// dpe_date is not listed: diagnostic dates arrive in ISO form, which already
// orders chronologically under plain string comparison.
var dateColumns = map[string]bool{
	"sale_date": true,
}

// IsNumericColumn reports whether a canonical column holds numeric values.
func IsNumericColumn(name string) bool {
	return numericColumns[name]
}

// IsDateColumn reports whether a canonical column holds dd/mm/yyyy dates.
func IsDateColumn(name string) bool {
	return dateColumns[name]
}

// IsCanonicalColumn reports whether name belongs to the canonical schema.
func IsCanonicalColumn(name string) bool {
	for _, col := range Columns {
		if col == name {
			return true
		}
	}
	return false
}

// ParseDate parses a dd/mm/yyyy column value.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, value)
}

// SaleYear returns the calendar year of the sale date, or an error when the
// date is absent or malformed.
func (r *PropertyRecord) SaleYear() (int, error) {
	t, err := ParseDate(r.SaleDate)
	if err != nil {
		return 0, fmt.Errorf("invalid sale_date %q: %w", r.SaleDate, err)
	}
	return t.Year(), nil
}

// PricePerM2 returns price divided by surface. The boolean is false when
// either value is absent or surface is not positive.
func (r *PropertyRecord) PricePerM2() (float64, bool) {
	if r.Price == nil || r.Surface == nil || *r.Surface <= 0 {
		return 0, false
	}
	return float64(*r.Price) / *r.Surface, true
}

// HasDPEData reports whether any energy-performance column is populated.
// The enrichment engine uses this to find its resume point.
func (r *PropertyRecord) HasDPEData() bool {
	return r.DPEEnergyClass != nil || r.DPEGESClass != nil ||
		r.EnergyConsumption != nil || r.DPEGESEstimate != nil ||
		r.DPEScore != nil || r.DPEGeoScore != nil ||
		r.ConstructionYear != nil || r.ThermalSurface != nil ||
		r.BuildingType != nil || r.DPEDate != nil
}

// HasCoordinates reports whether the geocoding columns are populated.
func (r *PropertyRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Clone returns a deep copy. Pointer columns are reallocated so the copy
// shares no memory with the receiver.
func (r *PropertyRecord) Clone() *PropertyRecord {
	c := *r
	c.PostalCode = clonePtr(r.PostalCode)
	c.InseeCode = clonePtr(r.InseeCode)
	c.Region = clonePtr(r.Region)
	c.Latitude = clonePtr(r.Latitude)
	c.Longitude = clonePtr(r.Longitude)
	c.Surface = clonePtr(r.Surface)
	c.Rooms = clonePtr(r.Rooms)
	c.Price = clonePtr(r.Price)
	c.AnalysisURL = clonePtr(r.AnalysisURL)
	c.DPEEnergyClass = clonePtr(r.DPEEnergyClass)
	c.DPEGESClass = clonePtr(r.DPEGESClass)
	c.EnergyConsumption = clonePtr(r.EnergyConsumption)
	c.DPEGESEstimate = clonePtr(r.DPEGESEstimate)
	c.DPEScore = clonePtr(r.DPEScore)
	c.DPEGeoScore = clonePtr(r.DPEGeoScore)
	c.ConstructionYear = clonePtr(r.ConstructionYear)
	c.ThermalSurface = clonePtr(r.ThermalSurface)
	c.BuildingType = clonePtr(r.BuildingType)
	c.DPEDate = clonePtr(r.DPEDate)
	c.EstimatedPrice = clonePtr(r.EstimatedPrice)
	c.FinalPricePerM2 = clonePtr(r.FinalPricePerM2)
	c.GrowthRate = clonePtr(r.GrowthRate)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ColumnValue returns the textual form of a canonical column. The boolean is
// false when the column is null or unknown.
func (r *PropertyRecord) ColumnValue(name string) (string, bool) {
	switch name {
	case "uuid":
		return stringValue(r.UUID)
	case "address":
		return stringValue(r.Address)
	case "city":
		return stringValue(r.City)
	case "sale_date":
		return stringValue(r.SaleDate)
	case "postal_code":
		return ptrString(r.PostalCode)
	case "insee_code":
		return ptrString(r.InseeCode)
	case "region":
		return ptrString(r.Region)
	case "latitude":
		return ptrFloat(r.Latitude)
	case "longitude":
		return ptrFloat(r.Longitude)
	case "type":
		return stringValue(r.Type)
	case "surface":
		return ptrFloat(r.Surface)
	case "rooms":
		return ptrInt(r.Rooms)
	case "price":
		return ptrInt(r.Price)
	case "analysis_url":
		return ptrString(r.AnalysisURL)
	case "dpe_energy_class":
		return ptrString(r.DPEEnergyClass)
	case "dpe_ges_class":
		return ptrString(r.DPEGESClass)
	case "energy_consumption":
		return ptrFloat(r.EnergyConsumption)
	case "dpe_ges_estimate":
		return ptrFloat(r.DPEGESEstimate)
	case "dpe_score":
		return ptrFloat(r.DPEScore)
	case "dpe_geo_score":
		return ptrFloat(r.DPEGeoScore)
	case "construction_year":
		return ptrInt(r.ConstructionYear)
	case "thermal_surface":
		return ptrFloat(r.ThermalSurface)
	case "building_type":
		return ptrString(r.BuildingType)
	case "dpe_date":
		return ptrString(r.DPEDate)
	case "estimated_price":
		return ptrInt(r.EstimatedPrice)
	case "final_price_per_m2":
		return ptrInt(r.FinalPricePerM2)
	case "growth_rate":
		return ptrFloat(r.GrowthRate)
	case "last_modified":
		return stringValue(r.LastModified)
	}
	return "", false
}

// SetColumn assigns a canonical column from its textual form. Empty input
// clears nullable columns. Unknown columns and unparseable numerics return an
// error.
func (r *PropertyRecord) SetColumn(name, value string) error {
	value = strings.TrimSpace(value)
	switch name {
	case "uuid":
		r.UUID = value
	case "address":
		r.Address = value
	case "city":
		r.City = value
	case "sale_date":
		r.SaleDate = value
	case "postal_code":
		r.PostalCode = optString(value)
	case "insee_code":
		r.InseeCode = optString(value)
	case "region":
		r.Region = optString(value)
	case "latitude":
		return setFloat(&r.Latitude, name, value)
	case "longitude":
		return setFloat(&r.Longitude, name, value)
	case "type":
		r.Type = value
	case "surface":
		return setFloat(&r.Surface, name, value)
	case "rooms":
		return setInt(&r.Rooms, name, value)
	case "price":
		return setInt(&r.Price, name, value)
	case "analysis_url":
		r.AnalysisURL = optString(value)
	case "dpe_energy_class":
		r.DPEEnergyClass = optString(value)
	case "dpe_ges_class":
		r.DPEGESClass = optString(value)
	case "energy_consumption":
		return setFloat(&r.EnergyConsumption, name, value)
	case "dpe_ges_estimate":
		return setFloat(&r.DPEGESEstimate, name, value)
	case "dpe_score":
		return setFloat(&r.DPEScore, name, value)
	case "dpe_geo_score":
		return setFloat(&r.DPEGeoScore, name, value)
	case "construction_year":
		return setInt(&r.ConstructionYear, name, value)
	case "thermal_surface":
		return setFloat(&r.ThermalSurface, name, value)
	case "building_type":
		r.BuildingType = optString(value)
	case "dpe_date":
		r.DPEDate = optString(value)
	case "estimated_price":
		return setInt(&r.EstimatedPrice, name, value)
	case "final_price_per_m2":
		return setInt(&r.FinalPricePerM2, name, value)
	case "growth_rate":
		return setFloat(&r.GrowthRate, name, value)
	case "last_modified":
		r.LastModified = value
	default:
		return fmt.Errorf("unknown column: %s", name)
	}
	return nil
}

func stringValue(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	return v, true
}

func ptrString(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	return *v, true
}

func ptrFloat(v *float64) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.FormatFloat(*v, 'f', -1, 64), true
}

func ptrInt(v *int) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.Itoa(*v), true
}

func optString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func setFloat(dst **float64, name, value string) error {
	if value == "" {
		*dst = nil
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("column %s: invalid number %q", name, value)
	}
	*dst = &f
	return nil
}

// setInt tolerates float renditions of whole numbers ("200000.0") since
// upstream tools emit integer columns that way.
func setInt(dst **int, name, value string) error {
	if value == "" {
		*dst = nil
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("column %s: invalid number %q", name, value)
	}
	n := int(math.Round(f))
	*dst = &n
	return nil
}
