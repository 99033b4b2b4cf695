package geo

import (
	"errors"
	"fmt"
	"math"
)

// Constants
const (
	EarthRadiusMeters     = 6371000.0 // Mean Earth radius used by the haversine formula
	MetersPerNauticalMile = 1852.0
	KnotsToMs             = 0.514444 // Conversion factor from Knots to m/s
	MsToKnots             = 1.94384  // Conversion factor from m/s to Knots
	FeetToMeters          = 0.3048
)

// ErrInvalidCoordinate is returned when a latitude or longitude is out of range
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is a WGS84 location with an optional altitude in meters
type Point struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt,omitempty"`
}

// NewPoint validates and builds a point without altitude
func NewPoint(lat, lon float64) (Point, error) {
	if err := Validate(lat, lon); err != nil {
		return Point{}, err
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// NewPointAlt validates and builds a point with altitude
func NewPointAlt(lat, lon, alt float64) (Point, error) {
	p, err := NewPoint(lat, lon)
	if err != nil {
		return Point{}, err
	}
	p.Alt = &alt
	return p, nil
}

// Validate checks latitude and longitude ranges
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %f", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %f", ErrInvalidCoordinate, lon)
	}
	return nil
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance between a and b in meters
func Distance(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Bearing returns the initial great-circle bearing from a to b in degrees [0,360)
// 0 = north, 90 = east
func Bearing(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLon := toRad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeHeading(toDeg(math.Atan2(y, x)))
}

// Interpolate linearly interpolates lat/lon/alt between a and b.
// The fraction is not clamped.
func Interpolate(a, b Point, fraction float64) Point {
	p := Point{
		Lat: a.Lat + (b.Lat-a.Lat)*fraction,
		Lon: a.Lon + (b.Lon-a.Lon)*fraction,
	}
	if a.Alt != nil && b.Alt != nil {
		alt := *a.Alt + (*b.Alt-*a.Alt)*fraction
		p.Alt = &alt
	}
	return p
}

// NormalizeHeading wraps any angle into [0,360)
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h -= 360
	}
	return h
}

// MetersToNM converts meters to nautical miles
func MetersToNM(m float64) float64 {
	return m / MetersPerNauticalMile
}
