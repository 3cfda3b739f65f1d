// Package geo holds the great-circle math used by the expert directory.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// MaxPinCorrectionKm bounds how far an administrator may move an expert's pin
// away from the geocoded centre of its city.
const MaxPinCorrectionKm = 15.0

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsSet reports whether p carries a real location. The literal (0,0) is the
// historical "no location" placeholder and counts as unset.
func (p Point) IsSet() bool {
	return !(p.Lat == 0 && p.Lng == 0)
}

// Valid reports whether p is inside the coordinate ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceKm returns the haversine great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// Within reports whether target lies at most radiusKm from origin. Unset
// locations on either side never match.
func Within(origin, target Point, radiusKm float64) (float64, bool) {
	if !origin.IsSet() || !target.IsSet() {
		return 0, false
	}
	d := DistanceKm(origin, target)
	return d, d <= radiusKm
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
