package track

import (
	"math"
	"testing"
	"time"

	"github.com/skyspotter/overhead/internal/protocol"
	"github.com/skyspotter/overhead/pkg/adsb"
)

var testObserver = Observer{Latitude: 52.0, Longitude: 13.0}

func testFilterConfig() FilterConfig {
	return FilterConfig{
		SearchRadiusKm:    50.0,
		MinElevationDeg:   10.0,
		MinAltitudeM:      500.0,
		FilterDeparting:   true,
		ApproachWindowDeg: 90.0,
	}
}

// sv builds an airborne state vector near the test observer.
func sv(id string, lat, lon, altM, speedMS float64) adsb.StateVector {
	return adsb.StateVector{
		ID:            id,
		Latitude:      lat,
		Longitude:     lon,
		AltitudeM:     altM,
		GroundSpeedMS: speedMS,
		Timestamp:     time.Unix(1700000000, 0),
	}
}

func withTrack(s adsb.StateVector, track float64) adsb.StateVector {
	s.TrueTrackDeg = track
	s.HasTrack = true
	return s
}

// TestBuildSnapshot tests filtering and ranking.
func TestBuildSnapshot(t *testing.T) {
	build := func(states ...adsb.StateVector) Snapshot {
		return BuildSnapshot(1, time.Now(), testObserver, testFilterConfig(), states)
	}

	t.Run("Drops on-ground aircraft", func(t *testing.T) {
		grounded := sv("a1", 52.0, 13.0, 3000, 10)
		grounded.OnGround = true
		snap := build(grounded)
		if len(snap.Visible) != 0 {
			t.Errorf("Expected empty snapshot, got %d aircraft", len(snap.Visible))
		}
	})

	t.Run("Drops below altitude floor", func(t *testing.T) {
		snap := build(sv("a1", 52.0, 13.0, 400, 10))
		if len(snap.Visible) != 0 {
			t.Errorf("Expected empty snapshot, got %d aircraft", len(snap.Visible))
		}
	})

	t.Run("Drops outside search radius", func(t *testing.T) {
		// ~111 km north of the observer.
		snap := build(sv("a1", 53.0, 13.0, 10000, 200))
		if len(snap.Visible) != 0 {
			t.Errorf("Expected empty snapshot, got %d aircraft", len(snap.Visible))
		}
	})

	t.Run("Drops below visibility elevation", func(t *testing.T) {
		// ~22 km away at 2000 m is about 5 degrees up.
		snap := build(sv("a1", 52.2, 13.0, 2000, 200))
		if len(snap.Visible) != 0 {
			t.Errorf("Expected empty snapshot, got %d aircraft", len(snap.Visible))
		}
	})

	t.Run("Keeps visible aircraft with geometry", func(t *testing.T) {
		// ~5.5 km north at 3000 m is about 28 degrees up.
		snap := build(sv("a1", 52.05, 13.0, 3000, 200))
		if len(snap.Visible) != 1 {
			t.Fatalf("Expected 1 aircraft, got %d", len(snap.Visible))
		}
		a := snap.Visible[0]
		if a.DistanceKm < 5.0 || a.DistanceKm > 6.0 {
			t.Errorf("Expected distance ~5.5 km, got %f", a.DistanceKm)
		}
		if a.BearingDeg > 1.0 && a.BearingDeg < 359.0 {
			t.Errorf("Expected bearing ~0 (north), got %f", a.BearingDeg)
		}
		if a.ElevationDeg < 20.0 || a.ElevationDeg > 40.0 {
			t.Errorf("Expected elevation ~28 degrees, got %f", a.ElevationDeg)
		}
	})

	t.Run("Drops departing aircraft", func(t *testing.T) {
		// North of the observer heading north: flying away.
		departing := withTrack(sv("a1", 52.05, 13.0, 3000, 200), 0)
		// North of the observer heading south: closing.
		closing := withTrack(sv("a2", 52.05, 13.0, 3000, 200), 180)

		snap := build(departing, closing)
		if len(snap.Visible) != 1 {
			t.Fatalf("Expected 1 aircraft, got %d", len(snap.Visible))
		}
		if snap.Visible[0].ID != "a2" {
			t.Errorf("Expected closing aircraft a2, got %s", snap.Visible[0].ID)
		}
		if !snap.Visible[0].Approaching {
			t.Error("Expected Approaching true")
		}
	})

	t.Run("Keeps aircraft without track data", func(t *testing.T) {
		snap := build(sv("a1", 52.05, 13.0, 3000, 200))
		if len(snap.Visible) != 1 {
			t.Errorf("Expected unknown-track aircraft kept, got %d", len(snap.Visible))
		}
	})

	t.Run("Departing filter off keeps everything visible", func(t *testing.T) {
		cfg := testFilterConfig()
		cfg.FilterDeparting = false
		departing := withTrack(sv("a1", 52.05, 13.0, 3000, 200), 0)

		snap := BuildSnapshot(1, time.Now(), testObserver, cfg, []adsb.StateVector{departing})
		if len(snap.Visible) != 1 {
			t.Fatalf("Expected 1 aircraft, got %d", len(snap.Visible))
		}
		if snap.Visible[0].Approaching {
			t.Error("Expected Approaching false for departing aircraft")
		}
	})

	t.Run("Sorted by distance, ties by id", func(t *testing.T) {
		far := sv("zz", 52.08, 13.0, 4000, 200)
		near := sv("mm", 52.03, 13.0, 2000, 200)
		nearTwin := sv("aa", 52.03, 13.0, 2000, 200)

		snap := build(far, near, nearTwin)
		if len(snap.Visible) != 3 {
			t.Fatalf("Expected 3 aircraft, got %d", len(snap.Visible))
		}
		got := []string{snap.Visible[0].ID, snap.Visible[1].ID, snap.Visible[2].ID}
		want := []string{"aa", "mm", "zz"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Position %d: expected %s, got %s (order %v)", i, want[i], got[i], got)
			}
		}
	})

	t.Run("Primary is closest visible", func(t *testing.T) {
		snap := build(
			sv("far", 52.08, 13.0, 4000, 200),
			sv("near", 52.03, 13.0, 2000, 200),
		)
		primary := snap.Primary()
		if primary == nil || primary.ID != "near" {
			t.Errorf("Expected primary near, got %+v", primary)
		}
	})

	t.Run("Empty sky has no primary", func(t *testing.T) {
		snap := build()
		if snap.Primary() != nil {
			t.Error("Expected nil primary for empty snapshot")
		}
	})
}

// TestDashboardList tests ETA ranking.
func TestDashboardList(t *testing.T) {
	cfg := testFilterConfig()
	states := []adsb.StateVector{
		// Far but fast: small ETA.
		sv("fast", 52.08, 13.0, 5000, 300),
		// Near but slow: larger ETA.
		sv("slow", 52.03, 13.0, 2000, 10),
		// No speed: unknown ETA, ranked last.
		sv("drifting", 52.04, 13.0, 2500, 0),
	}
	snap := BuildSnapshot(1, time.Now(), testObserver, cfg, states)
	if len(snap.Visible) != 3 {
		t.Fatalf("Expected 3 visible aircraft, got %d", len(snap.Visible))
	}

	t.Run("Ranks by ETA ascending, unknown last", func(t *testing.T) {
		list := snap.DashboardList(10)
		got := []string{list[0].ID, list[1].ID, list[2].ID}
		want := []string{"fast", "slow", "drifting"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Position %d: expected %s, got %s (order %v)", i, want[i], got[i], got)
			}
		}
		if !math.IsInf(list[2].ETASeconds, 1) {
			t.Errorf("Expected +Inf ETA for zero speed, got %f", list[2].ETASeconds)
		}
	})

	t.Run("Truncates to n", func(t *testing.T) {
		if list := snap.DashboardList(2); len(list) != 2 {
			t.Errorf("Expected 2 entries, got %d", len(list))
		}
	})

	t.Run("Does not reorder the snapshot", func(t *testing.T) {
		snap.DashboardList(10)
		if snap.Visible[0].ID != "slow" {
			t.Errorf("Expected snapshot still distance-sorted, got %s first", snap.Visible[0].ID)
		}
	})
}

// TestWireMessages tests snapshot-to-protocol conversion.
func TestWireMessages(t *testing.T) {
	t.Run("Empty snapshot becomes no_traffic", func(t *testing.T) {
		snap := BuildSnapshot(1, time.Unix(1700000000, 0), testObserver, testFilterConfig(), nil)
		msg := snap.WireUpdate()
		if msg.Type != protocol.TypeNoTraffic {
			t.Errorf("Expected no_traffic, got %s", msg.Type)
		}
		if msg.Timestamp != 1700000000 {
			t.Errorf("Expected timestamp 1700000000, got %d", msg.Timestamp)
		}
	})

	t.Run("Update carries primary and full set", func(t *testing.T) {
		snap := BuildSnapshot(1, time.Now(), testObserver, testFilterConfig(), []adsb.StateVector{
			sv("far", 52.08, 13.0, 4000, 200),
			sv("near", 52.03, 13.0, 2000, 200),
		})
		msg := snap.WireUpdate()
		if msg.Type != protocol.TypeAircraftUpdate {
			t.Fatalf("Expected aircraft_update, got %s", msg.Type)
		}
		if msg.Primary == nil || msg.Primary.ID != "near" {
			t.Errorf("Expected primary near, got %+v", msg.Primary)
		}
		if len(msg.Aircraft) != 2 {
			t.Errorf("Expected 2 aircraft, got %d", len(msg.Aircraft))
		}
	})

	t.Run("Wire aircraft are marked visible", func(t *testing.T) {
		snap := BuildSnapshot(1, time.Now(), testObserver, testFilterConfig(), []adsb.StateVector{
			sv("a1", 52.03, 13.0, 2000, 200),
		})
		msg := snap.WireUpdate()
		if !msg.Primary.IsVisible || !msg.Aircraft[0].IsVisible {
			t.Error("Expected is_visible true on broadcast aircraft")
		}
	})

	t.Run("Enrichment fields reach the wire", func(t *testing.T) {
		snap := BuildSnapshot(1, time.Now(), testObserver, testFilterConfig(), []adsb.StateVector{
			sv("a1", 52.03, 13.0, 2000, 200),
		})
		p := snap.Primary()
		p.TypeName = "Airbus A320"
		p.ImageURL = "https://img.example/a320.jpg"

		msg := snap.WireUpdate()
		if msg.Primary.TypeName != "Airbus A320" {
			t.Errorf("Expected type name on wire primary, got %q", msg.Primary.TypeName)
		}
		if msg.Primary.ImageURL != "https://img.example/a320.jpg" {
			t.Errorf("Expected image URL on wire primary, got %q", msg.Primary.ImageURL)
		}
		if msg.Aircraft[0].TypeName != "Airbus A320" {
			t.Error("Expected enrichment on the matching list entry too")
		}
	})

	t.Run("List carries ETA only when known", func(t *testing.T) {
		snap := BuildSnapshot(1, time.Now(), testObserver, testFilterConfig(), []adsb.StateVector{
			sv("fast", 52.03, 13.0, 2000, 200),
			sv("drifting", 52.04, 13.0, 2500, 0),
		})
		msg := snap.WireList(10)
		if msg.Type != protocol.TypeAircraftList {
			t.Fatalf("Expected aircraft_list, got %s", msg.Type)
		}
		if len(msg.Aircraft) != 2 {
			t.Fatalf("Expected 2 aircraft, got %d", len(msg.Aircraft))
		}
		if msg.Aircraft[0].ETASeconds == nil {
			t.Error("Expected eta_seconds set for moving aircraft")
		}
		if msg.Aircraft[1].ETASeconds != nil {
			t.Error("Expected eta_seconds omitted for zero-speed aircraft")
		}
	})
}
