// Package geometry provides the spatial checks used while validating
// enrichment results: a coarse metropolitan-France containment test for
// geocoded coordinates and the geodesic distance between candidate matches.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Bounding boxes in (lon, lat) order. Corsica sits outside the mainland box,
// so containment checks both.
var (
	mainlandBound = orb.Bound{Min: orb.Point{-5.45, 42.2}, Max: orb.Point{8.4, 51.3}}
	corsicaBound  = orb.Bound{Min: orb.Point{8.4, 41.2}, Max: orb.Point{9.7, 43.1}}
)

// InMetropolitanFrance reports whether the coordinates fall inside
// metropolitan France. Overseas territories are out of scope for the
// datasets this pipeline consumes.
func InMetropolitanFrance(lat, lon float64) bool {
	p := orb.Point{lon, lat}
	return mainlandBound.Contains(p) || corsicaBound.Contains(p)
}

// DistanceMeters returns the haversine distance in meters between two
// (lat, lon) coordinate pairs.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}
