package geo

import (
	"errors"
	"math"
	"testing"
)

// TestDistance tests great-circle distance calculation.
func TestDistance(t *testing.T) {
	t.Run("Identical points", func(t *testing.T) {
		d, err := Distance(52.5, 13.4, 52.5, 13.4)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if d != 0 {
			t.Errorf("Expected 0 for identical points, got %f", d)
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		pairs := [][4]float64{
			{52.5, 13.4, 48.8, 2.3},
			{0, 0, 10, 10},
			{-33.9, 151.2, 35.7, 139.7},
		}
		for _, p := range pairs {
			ab, err := Distance(p[0], p[1], p[2], p[3])
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			ba, err := Distance(p[2], p[3], p[0], p[1])
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if math.Abs(ab-ba) > 1e-9 {
				t.Errorf("Distance not symmetric: %f vs %f", ab, ba)
			}
		}
	})

	t.Run("Known distance", func(t *testing.T) {
		// Berlin to Paris, roughly 878 km.
		d, err := Distance(52.52, 13.405, 48.8566, 2.3522)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if d < 870 || d > 890 {
			t.Errorf("Expected ~878 km Berlin-Paris, got %f", d)
		}
	})

	t.Run("Rejects NaN latitude", func(t *testing.T) {
		_, err := Distance(math.NaN(), 0, 0, 0)
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatalf("Expected DomainError, got: %v", err)
		}
	})

	t.Run("Rejects out-of-range longitude", func(t *testing.T) {
		_, err := Distance(0, 0, 0, 181)
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatalf("Expected DomainError, got: %v", err)
		}
	})
}

// TestBearing tests initial bearing calculation.
func TestBearing(t *testing.T) {
	t.Run("Range and identity", func(t *testing.T) {
		points := [][4]float64{
			{0, 0, 10, 0},    // due north
			{0, 0, 0, 10},    // due east
			{0, 0, -10, 0},   // due south
			{0, 0, 0, -10},   // due west
			{52.5, 13.4, 52.5, 13.4}, // identical points: defined, not NaN
		}
		for _, p := range points {
			b, err := Bearing(p[0], p[1], p[2], p[3])
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if math.IsNaN(b) {
				t.Error("Bearing must not be NaN")
			}
			if b < 0 || b >= 360 {
				t.Errorf("Bearing %f outside [0,360)", b)
			}
		}
	})

	t.Run("Cardinal directions", func(t *testing.T) {
		tests := []struct {
			name     string
			lat2     float64
			lon2     float64
			expected float64
		}{
			{"North", 10, 0, 0},
			{"East", 0, 10, 90},
			{"South", -10, 0, 180},
			{"West", 0, -10, 270},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b, err := Bearing(0, 0, tt.lat2, tt.lon2)
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				if math.Abs(b-tt.expected) > 0.01 {
					t.Errorf("Expected bearing %f, got %f", tt.expected, b)
				}
			})
		}
	})
}

// TestElevationAngle tests observer elevation angle calculation.
func TestElevationAngle(t *testing.T) {
	tests := []struct {
		name       string
		distanceKm float64
		altitudeM  float64
		expected   float64
	}{
		{"Directly overhead", 0, 10000, 90},
		{"On the horizon", 10, 0, 0},
		{"45 degrees", 1, 1000, 45},
		{"Zero distance zero altitude", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			angle := ElevationAngle(tt.distanceKm, tt.altitudeM)
			if math.Abs(angle-tt.expected) > 0.01 {
				t.Errorf("Expected %f, got %f", tt.expected, angle)
			}
		})
	}

	t.Run("Clamped to [0,90]", func(t *testing.T) {
		if a := ElevationAngle(10, -5000); a != 0 {
			t.Errorf("Expected clamp to 0, got %f", a)
		}
	})
}

// TestIsApproaching tests the closing-direction check.
func TestIsApproaching(t *testing.T) {
	tests := []struct {
		name              string
		bearingToAircraft float64
		trueTrack         float64
		window            float64
		expected          bool
	}{
		// Aircraft due north of observer; flying due south comes straight in.
		{"Head-on", 0, 180, 90, true},
		{"Directly away", 0, 0, 90, false},
		{"Perpendicular at window edge", 0, 90, 90, true},
		{"Just outside window", 0, 89, 89.5, true},
		{"Wraparound near north", 350, 175, 90, true},
		{"Tight window rejects oblique", 0, 120, 45, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsApproaching(tt.bearingToAircraft, tt.trueTrack, tt.window)
			if got != tt.expected {
				t.Errorf("IsApproaching(%f, %f, %f) = %v, want %v",
					tt.bearingToAircraft, tt.trueTrack, tt.window, got, tt.expected)
			}
		})
	}
}

// TestETASeconds tests arrival-time estimation.
func TestETASeconds(t *testing.T) {
	t.Run("Simple division", func(t *testing.T) {
		// 10 km at 100 m/s = 100 seconds.
		eta := ETASeconds(10, 100)
		if math.Abs(eta-100) > 0.01 {
			t.Errorf("Expected 100s, got %f", eta)
		}
	})

	t.Run("Stationary is infinite", func(t *testing.T) {
		if !math.IsInf(ETASeconds(10, 0), 1) {
			t.Error("Expected +Inf for zero speed")
		}
		if !math.IsInf(ETASeconds(10, -5), 1) {
			t.Error("Expected +Inf for negative speed")
		}
	})
}

// TestNewBoundingBox tests search-box construction.
func TestNewBoundingBox(t *testing.T) {
	box := NewBoundingBox(52.0, 13.0, 50.0)

	if box.MinLat >= 52.0 || box.MaxLat <= 52.0 {
		t.Errorf("Box does not straddle center latitude: %+v", box)
	}
	if box.MinLon >= 13.0 || box.MaxLon <= 13.0 {
		t.Errorf("Box does not straddle center longitude: %+v", box)
	}

	// ~50 km should be ~0.45 degrees of latitude.
	latSpan := box.MaxLat - box.MinLat
	if latSpan < 0.8 || latSpan > 1.0 {
		t.Errorf("Unexpected latitude span %f", latSpan)
	}

	// Longitude span grows with latitude.
	lonSpan := box.MaxLon - box.MinLon
	if lonSpan <= latSpan {
		t.Errorf("Longitude span %f should exceed latitude span %f at 52N", lonSpan, latSpan)
	}
}
