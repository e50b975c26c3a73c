// Package track turns raw upstream state vectors into observer-relative
// snapshots: which aircraft are nearby, which are visible, and which one
// a person looking up should see first.
package track

import (
	"math"
	"sort"
	"time"

	"github.com/skyspotter/overhead/internal/protocol"
	"github.com/skyspotter/overhead/pkg/adsb"
	"github.com/skyspotter/overhead/pkg/geo"
)

// Observer is the fixed ground position all geometry is relative to.
type Observer struct {
	Latitude  float64
	Longitude float64
}

// FilterConfig contains the candidate and visibility thresholds.
type FilterConfig struct {
	// SearchRadiusKm bounds the candidate set
	SearchRadiusKm float64

	// MinElevationDeg is the visibility threshold
	MinElevationDeg float64

	// MinAltitudeM drops low reports the on-ground flag misses
	MinAltitudeM float64

	// FilterDeparting drops aircraft moving away when they carry a track
	FilterDeparting bool

	// ApproachWindowDeg is the closing-direction tolerance
	ApproachWindowDeg float64
}

// Aircraft is one candidate with its derived observer-relative geometry.
type Aircraft struct {
	adsb.StateVector

	DistanceKm   float64
	BearingDeg   float64
	ElevationDeg float64
	Approaching  bool

	// ETASeconds is +Inf when ground speed is unusable
	ETASeconds float64

	// TypeName and ImageURL are filled in by the enrichment lookup
	// after the snapshot is built; empty when no lookup ran.
	TypeName string
	ImageURL string
}

// Snapshot is one complete, immutable view of the sky. Seq increases
// with every snapshot so consumers can detect stale deliveries.
type Snapshot struct {
	Seq     uint64
	At      time.Time
	Visible []Aircraft
}

// Primary returns the aircraft a subscriber should look at first: the
// closest visible one. Nil when the sky is empty.
func (s *Snapshot) Primary() *Aircraft {
	if len(s.Visible) == 0 {
		return nil
	}
	return &s.Visible[0]
}

// BuildSnapshot derives, filters, and ranks one upstream batch.
//
// An aircraft survives when it is airborne, above the altitude floor,
// inside the search radius, at or above the visibility elevation, and
// (when the departing filter is on and a track is known) closing on the
// observer. The result is sorted by distance ascending, ties broken by
// id so equal-distance ordering is stable across polls.
func BuildSnapshot(seq uint64, at time.Time, obs Observer, cfg FilterConfig, states []adsb.StateVector) Snapshot {
	visible := make([]Aircraft, 0, len(states))

	for _, sv := range states {
		if sv.OnGround || sv.AltitudeM < cfg.MinAltitudeM {
			continue
		}

		dist, err := geo.Distance(obs.Latitude, obs.Longitude, sv.Latitude, sv.Longitude)
		if err != nil || dist > cfg.SearchRadiusKm {
			continue
		}
		bearing, err := geo.Bearing(obs.Latitude, obs.Longitude, sv.Latitude, sv.Longitude)
		if err != nil {
			continue
		}

		elev := geo.ElevationAngle(dist, sv.AltitudeM)
		if elev < cfg.MinElevationDeg {
			continue
		}

		// No track means we cannot tell; keep the aircraft rather than
		// guess it away.
		approaching := true
		if sv.HasTrack {
			approaching = geo.IsApproaching(bearing, sv.TrueTrackDeg, cfg.ApproachWindowDeg)
		}
		if cfg.FilterDeparting && !approaching {
			continue
		}

		visible = append(visible, Aircraft{
			StateVector:  sv,
			DistanceKm:   dist,
			BearingDeg:   bearing,
			ElevationDeg: elev,
			Approaching:  approaching,
			ETASeconds:   geo.ETASeconds(dist, sv.GroundSpeedMS),
		})
	}

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].DistanceKm != visible[j].DistanceKm {
			return visible[i].DistanceKm < visible[j].DistanceKm
		}
		return visible[i].ID < visible[j].ID
	})

	return Snapshot{Seq: seq, At: at, Visible: visible}
}

// DashboardList ranks the visible set by ETA ascending (unknown ETA
// last, then by id) and returns at most n entries.
func (s *Snapshot) DashboardList(n int) []Aircraft {
	list := make([]Aircraft, len(s.Visible))
	copy(list, s.Visible)

	sort.Slice(list, func(i, j int) bool {
		ei, ej := list[i].ETASeconds, list[j].ETASeconds
		if ei != ej {
			return ei < ej
		}
		return list[i].ID < list[j].ID
	})

	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list
}

// wireAircraft converts one derived aircraft to its wire form.
func wireAircraft(a Aircraft, withETA bool) protocol.Aircraft {
	w := protocol.Aircraft{
		ID:            a.ID,
		Callsign:      a.Callsign,
		Latitude:      a.Latitude,
		Longitude:     a.Longitude,
		AltitudeM:     a.AltitudeM,
		GroundSpeedMS: a.GroundSpeedMS,
		TrackDeg:      a.TrueTrackDeg,
		DistanceKm:    a.DistanceKm,
		BearingDeg:    a.BearingDeg,
		ElevationDeg:  a.ElevationDeg,
		Approaching:   a.Approaching,
		IsVisible:     true,
		TypeName:      a.TypeName,
		ImageURL:      a.ImageURL,
	}
	if withETA && !math.IsInf(a.ETASeconds, 1) {
		eta := a.ETASeconds
		w.ETASeconds = &eta
	}
	return w
}

// WireUpdate builds the aircraft_update broadcast for this snapshot,
// or a no_traffic message when nothing is visible.
func (s *Snapshot) WireUpdate() *protocol.ServerMessage {
	if len(s.Visible) == 0 {
		return protocol.NewNoTraffic(s.At)
	}

	aircraft := make([]protocol.Aircraft, len(s.Visible))
	for i, a := range s.Visible {
		aircraft[i] = wireAircraft(a, false)
	}
	primary := wireAircraft(s.Visible[0], false)
	return protocol.NewAircraftUpdate(s.At, &primary, aircraft)
}

// WireList builds the aircraft_list dashboard message, top n by ETA.
func (s *Snapshot) WireList(n int) *protocol.ServerMessage {
	ranked := s.DashboardList(n)
	aircraft := make([]protocol.Aircraft, len(ranked))
	for i, a := range ranked {
		aircraft[i] = wireAircraft(a, true)
	}
	return protocol.NewAircraftList(aircraft)
}
