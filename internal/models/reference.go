package models

// ReferencePrice is one row of the external reference price table: the
// current market price per m² for a (city, property type) pair. The zipcode
// travels with the row but plays no role in lookups.
type ReferencePrice struct {
	CityName     string  `json:"city_name"`
	Zipcode      string  `json:"zipcode"`
	PropertyType string  `json:"property_type"`
	PricePerM2   float64 `json:"price_per_m2"`
}
