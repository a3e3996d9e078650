// Package geo implements the geofence checks used to validate claim positions.
package geo

import "math"

// EarthRadius is the mean Earth radius in meters
const EarthRadius = 6371000.0

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the great-circle distance in meters between two points
// using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*sinLon*sinLon

	// rounding can push a just outside [0, 1] for identical or antipodal points
	a = math.Max(0, math.Min(1, a))

	return EarthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WithinRadius reports whether distance is inside the claim radius
func WithinRadius(distance, radius float64) bool {
	return distance <= radius
}
