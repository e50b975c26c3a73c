package adsb

import (
	"context"
	"time"

	"github.com/skyspotter/overhead/pkg/geo"
)

// StateVector is a single aircraft's raw reported position, velocity and
// altitude at a point in time, as delivered by the upstream data source.
// State vectors are re-created on every poll cycle and never mutated.
type StateVector struct {
	// ID is the unique 24-bit ICAO transponder address (e.g., "a12345")
	ID string

	// Callsign is the flight number or registration, may be empty
	Callsign string

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64

	// AltitudeM is the barometric altitude in meters above mean sea level
	AltitudeM float64

	// GroundSpeedMS is the ground speed in meters per second
	GroundSpeedMS float64

	// TrueTrackDeg is the ground track in degrees (0-360, 0 = North)
	TrueTrackDeg float64

	// HasTrack reports whether the source supplied track data at all;
	// aircraft without it cannot be direction-filtered
	HasTrack bool

	// OnGround reports whether the aircraft is on the ground
	OnGround bool

	// Timestamp is when this state was reported
	Timestamp time.Time
}

// Source is the interface all upstream flight-position providers must
// implement. The tracking pipeline only ever pulls: one fetch per poll
// tick, scoped to a bounding box around the observer.
type Source interface {
	// FetchStates returns the current state vectors inside the box.
	FetchStates(ctx context.Context, box geo.BoundingBox) ([]StateVector, error)

	// Close cleanly shuts down the source.
	Close() error
}
