package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHaversineCoincidentPoints(t *testing.T) {
	require.Equal(t, 0.0, Haversine(40.0, -74.0, 40.0, -74.0))
	require.Equal(t, 0.0, Haversine(0, 0, 0, 0))
	require.Equal(t, 0.0, Haversine(-90, 180, -90, 180))
}

func TestHaversineKnownDistances(t *testing.T) {
	// New York (JFK) to London (LHR), reference ~5540 km.
	d := Haversine(40.6413, -73.7781, 51.4700, -0.4543)
	require.InDelta(t, 5540, d, 30)

	// One degree of latitude along a meridian is ~111.19 km on the sphere.
	d = Haversine(40, -74, 41, -74)
	require.InDelta(t, 111.19, d, 0.1)
}

func TestHaversineSymmetricAndFinite(t *testing.T) {
	a := Haversine(35.0, -10.0, 70.0, 40.0)
	b := Haversine(70.0, 40.0, 35.0, -10.0)
	require.InDelta(t, a, b, 1e-9)

	// Antipodal points must not blow up in the Sqrt argument.
	d := Haversine(0, 0, 0, 180)
	require.False(t, math.IsNaN(d))
	require.InDelta(t, math.Pi*EarthRadiusKm, d, 1)
}

func TestBoundsExpandClampsToDomain(t *testing.T) {
	b := Bounds{MinLat: -89, MaxLat: 89, MinLng: -179, MaxLng: 179}.Expand(5)
	require.Equal(t, Bounds{MinLat: -90, MaxLat: 90, MinLng: -180, MaxLng: 180}, b)

	b = Bounds{MinLat: 35, MaxLat: 70, MinLng: -10, MaxLng: 40}.Expand(1)
	require.Equal(t, Bounds{MinLat: 34, MaxLat: 71, MinLng: -11, MaxLng: 41}, b)
	require.True(t, b.Contains(50, 10))
	require.False(t, b.Contains(20, 10))
}
