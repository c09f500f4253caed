package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceIdenticalPointsIsZero(t *testing.T) {
	points := []Coordinate{
		{Latitude: 52.3702, Longitude: 4.8952},
		{Latitude: 0, Longitude: 0},
		{Latitude: -33.8688, Longitude: 151.2093},
		{Latitude: 90, Longitude: 0},
	}
	for _, p := range points {
		require.Equal(t, 0.0, Distance(p, p))
	}
}

func TestDistanceKnownPairs(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Coordinate
		want    float64
		epsilon float64
	}{
		{
			name:    "one degree of latitude",
			a:       Coordinate{Latitude: 0, Longitude: 0},
			b:       Coordinate{Latitude: 1, Longitude: 0},
			want:    EarthRadiusMeters * math.Pi / 180,
			epsilon: 0.001,
		},
		{
			name:    "london to paris",
			a:       Coordinate{Latitude: 51.5074, Longitude: -0.1278},
			b:       Coordinate{Latitude: 48.8566, Longitude: 2.3522},
			want:    343_500,
			epsilon: 1_500,
		},
		{
			name:    "antipodal",
			a:       Coordinate{Latitude: 0, Longitude: 0},
			b:       Coordinate{Latitude: 0, Longitude: 180},
			want:    EarthRadiusMeters * math.Pi,
			epsilon: 0.001,
		},
		{
			name:    "antipodal off equator",
			a:       Coordinate{Latitude: 40.4168, Longitude: -3.7038},
			b:       Coordinate{Latitude: -40.4168, Longitude: 176.2962},
			want:    EarthRadiusMeters * math.Pi,
			epsilon: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.a, tc.b)
			require.False(t, math.IsNaN(got))
			require.InDelta(t, tc.want, got, tc.epsilon)
			require.InDelta(t, got, Distance(tc.b, tc.a), 1e-6)
		})
	}
}

func TestGeofenceBoundaryIsInclusive(t *testing.T) {
	center := Coordinate{Latitude: 52.0907, Longitude: 5.1214}
	point := Coordinate{Latitude: 52.0912, Longitude: 5.1220}
	d := Distance(point, center)

	onEdge := Geofence{Center: center, RadiusMeters: d}
	require.True(t, onEdge.Contains(point))
	require.True(t, IsInsideGeofence(point, onEdge))

	justShort := Geofence{Center: center, RadiusMeters: math.Nextafter(d, 0)}
	require.False(t, justShort.Contains(point))

	require.True(t, onEdge.Contains(center))
}

func TestNewGeofenceValidation(t *testing.T) {
	center := Coordinate{Latitude: 52.0907, Longitude: 5.1214}

	g, err := NewGeofence(center, 100)
	require.NoError(t, err)
	require.Equal(t, 100.0, g.RadiusMeters)

	for _, radius := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := NewGeofence(center, radius)
		require.ErrorIs(t, err, ErrInvalidRadius)
	}

	_, err = NewGeofence(Coordinate{Latitude: 91, Longitude: 0}, 100)
	require.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = NewGeofence(Coordinate{Latitude: 0, Longitude: -181}, 100)
	require.ErrorIs(t, err, ErrInvalidCoordinate)
}
