// Package geo provides the spherical geometry used to relate aircraft
// positions to a fixed observer: great-circle distance, initial bearing,
// elevation angle above the horizon, and closing-direction tests.
//
// All functions are pure. Coordinates use the WGS84 system (same as GPS)
// in decimal degrees.
package geo

import (
	"fmt"
	"math"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's radius in kilometers (WGS84 mean radius)
	EarthRadiusKm = 6371.0

	// KmPerDegreeLat is the approximate north-south extent of one degree
	// of latitude, used for bounding-box construction.
	KmPerDegreeLat = 111.0
)

// DomainError reports geometry input that is outside the valid coordinate
// domain (NaN or out-of-range latitude/longitude). Records carrying such
// values should be rejected individually; the rest of a batch is still good.
type DomainError struct {
	Field string
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("geo: %s out of domain: %v", e.Field, e.Value)
}

// checkLatLon validates a coordinate pair.
func checkLatLon(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &DomainError{Field: "latitude", Value: lat}
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return &DomainError{Field: "longitude", Value: lon}
	}
	return nil
}

// Distance calculates the great-circle distance between two points using
// the haversine formula. Returns distance in kilometers. The result is
// symmetric and zero for identical points.
func Distance(lat1, lon1, lat2, lon2 float64) (float64, error) {
	if err := checkLatLon(lat1, lon1); err != nil {
		return 0, err
	}
	if err := checkLatLon(lat2, lon2); err != nil {
		return 0, err
	}

	lat1Rad := lat1 * DegreesToRadians
	lat2Rad := lat2 * DegreesToRadians
	dLat := (lat2 - lat1) * DegreesToRadians
	dLon := (lon2 - lon1) * DegreesToRadians

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c, nil
}

// Bearing calculates the initial bearing (forward azimuth) from point 1 to
// point 2 along the great circle. Returns degrees in [0, 360), where
// 0 = North, 90 = East, 180 = South, 270 = West.
func Bearing(lat1, lon1, lat2, lon2 float64) (float64, error) {
	if err := checkLatLon(lat1, lon1); err != nil {
		return 0, err
	}
	if err := checkLatLon(lat2, lon2); err != nil {
		return 0, err
	}

	lat1Rad := lat1 * DegreesToRadians
	lat2Rad := lat2 * DegreesToRadians
	dLon := (lon2 - lon1) * DegreesToRadians

	y := math.Sin(dLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * RadiansToDegrees

	return NormalizeBearing(bearing), nil
}

// NormalizeBearing ensures a bearing is in the range [0, 360).
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360.0)
	if b < 0 {
		b += 360.0
	}
	return b
}

// ElevationAngle calculates the angle above the horizon at which an
// aircraft appears from the observer's position, given the horizontal
// distance in kilometers and the altitude in meters. The result is
// clamped to [0, 90]; zero distance with positive altitude is straight
// overhead (90).
func ElevationAngle(distanceKm, altitudeM float64) float64 {
	angle := math.Atan2(altitudeM, distanceKm*1000.0) * RadiansToDegrees
	if angle < 0 {
		return 0
	}
	if angle > 90 {
		return 90
	}
	return angle
}

// IsApproaching reports whether an aircraft flying on trueTrack is closing
// on the observer, given the bearing from the observer to the aircraft.
// The aircraft is considered approaching when the angular difference
// between its track and the reverse of that bearing is within windowDeg,
// handling wraparound at 0/360.
func IsApproaching(bearingToAircraft, trueTrack, windowDeg float64) bool {
	// Heading the aircraft would fly to come straight at the observer.
	inbound := NormalizeBearing(bearingToAircraft + 180)
	diff := math.Abs(math.Mod(trueTrack-inbound+540, 360) - 180)
	return diff <= windowDeg
}

// ETASeconds estimates the time until an aircraft at distanceKm reaches
// the observer, assuming it holds the given ground speed in m/s straight
// toward the observer. Returns +Inf when the aircraft is stationary or
// speed data is missing.
func ETASeconds(distanceKm, groundSpeedMS float64) float64 {
	if groundSpeedMS <= 0 {
		return math.Inf(1)
	}
	return distanceKm * 1000.0 / groundSpeedMS
}

// BoundingBox is a latitude/longitude rectangle used to scope upstream
// state-vector queries.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// NewBoundingBox builds a box of radiusKm around a center point using the
// flat-earth degrees-per-kilometer approximation, which is adequate for
// the search radii involved (tens of kilometers).
func NewBoundingBox(lat, lon, radiusKm float64) BoundingBox {
	latOffset := radiusKm / KmPerDegreeLat
	lonKmPerDeg := KmPerDegreeLat * math.Abs(math.Cos(lat*DegreesToRadians))
	lonOffset := radiusKm / lonKmPerDeg

	return BoundingBox{
		MinLat: lat - latOffset,
		MaxLat: lat + latOffset,
		MinLon: lon - lonOffset,
		MaxLon: lon + lonOffset,
	}
}
