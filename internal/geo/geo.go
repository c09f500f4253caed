// Package geo computes great-circle distances and circular geofence membership.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

var (
	// ErrInvalidRadius is returned when a geofence radius is not strictly positive.
	ErrInvalidRadius = errors.New("geofence radius must be greater than zero")
	// ErrInvalidCoordinate is returned for latitudes or longitudes outside their valid range.
	ErrInvalidCoordinate = errors.New("coordinate out of range")
)

// Coordinate is a WGS84 position as reported by the platform location service.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate reports whether the coordinate lies within the valid lat/lon ranges.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

// Geofence is a circular zone around Center.
type Geofence struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
}

// NewGeofence validates and builds a Geofence.
func NewGeofence(center Coordinate, radiusMeters float64) (Geofence, error) {
	if err := center.Validate(); err != nil {
		return Geofence{}, err
	}
	if !(radiusMeters > 0) || math.IsInf(radiusMeters, 1) {
		return Geofence{}, fmt.Errorf("%w: %v", ErrInvalidRadius, radiusMeters)
	}
	return Geofence{Center: center, RadiusMeters: radiusMeters}, nil
}

// Contains reports whether p lies inside the geofence. The boundary is inclusive.
func (g Geofence) Contains(p Coordinate) bool {
	return IsInsideGeofence(p, g)
}

// IsInsideGeofence reports whether the distance from p to the geofence center is at most its radius.
func IsInsideGeofence(p Coordinate, g Geofence) bool {
	return Distance(p, g.Center) <= g.RadiusMeters
}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h slightly outside [0,1] for antipodal points
	h = math.Min(1, math.Max(0, h))

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
