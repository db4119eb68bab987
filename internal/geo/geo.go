// Package geo provides great-circle distance and small coordinate helpers
// used by the facility-location solver.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for spherical distances.
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between two
// lat/lng points given in degrees. Exactly 0 for coincident points; the
// argument of Sqrt is clamped so floating-point jitter never yields NaN.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if a < 0 {
		a = 0
	} else if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Bounds is a lat/lng bounding box.
type Bounds struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Expand grows the box by marginDeg on every side, clamped to the physical
// lat/lng domain.
func (b Bounds) Expand(marginDeg float64) Bounds {
	out := Bounds{
		MinLat: b.MinLat - marginDeg,
		MaxLat: b.MaxLat + marginDeg,
		MinLng: b.MinLng - marginDeg,
		MaxLng: b.MaxLng + marginDeg,
	}
	if out.MinLat < -90 {
		out.MinLat = -90
	}
	if out.MaxLat > 90 {
		out.MaxLat = 90
	}
	if out.MinLng < -180 {
		out.MinLng = -180
	}
	if out.MaxLng > 180 {
		out.MaxLng = 180
	}
	return out
}

// Contains reports whether the point lies inside the box.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ValidPoint reports whether lat/lng lie in the physical coordinate domain.
func ValidPoint(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
