package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig tests the default configuration values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Tracking.SearchRadiusKm != 50.0 {
		t.Errorf("Expected default search radius 50, got %f", cfg.Tracking.SearchRadiusKm)
	}
	if cfg.Tracking.MinElevationDeg != 20.0 {
		t.Errorf("Expected default min elevation 20, got %f", cfg.Tracking.MinElevationDeg)
	}
	if !cfg.Tracking.FilterDeparting {
		t.Error("Expected departing filter enabled by default")
	}
	if cfg.Tracking.ApproachWindowDeg != 90.0 {
		t.Errorf("Expected default approach window 90, got %f", cfg.Tracking.ApproachWindowDeg)
	}
	if cfg.Limits.MaxConnectionsPerIP != 3 {
		t.Errorf("Expected default max connections per IP 3, got %d", cfg.Limits.MaxConnectionsPerIP)
	}
	if cfg.Limits.MessageRateLimit != 60 {
		t.Errorf("Expected default message rate limit 60, got %d", cfg.Limits.MessageRateLimit)
	}
}

// TestLoad tests configuration loading from a file.
func TestLoad(t *testing.T) {
	t.Run("Missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cfg.Server.Port != "8080" {
			t.Errorf("Expected default port, got %s", cfg.Server.Port)
		}
	})

	t.Run("File values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		data := `{
			"observer": {"name": "Rooftop", "latitude": 52.52, "longitude": 13.405},
			"tracking": {"search_radius_km": 25.0, "poll_interval_seconds": 5}
		}`
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cfg.Observer.Latitude != 52.52 {
			t.Errorf("Expected latitude 52.52, got %f", cfg.Observer.Latitude)
		}
		if cfg.Tracking.SearchRadiusKm != 25.0 {
			t.Errorf("Expected search radius 25, got %f", cfg.Tracking.SearchRadiusKm)
		}
		// Untouched fields keep their defaults.
		if cfg.Server.Port != "8080" {
			t.Errorf("Expected default port, got %s", cfg.Server.Port)
		}
	})

	t.Run("Invalid JSON returns error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Expected error for invalid JSON")
		}
	})
}

// TestEnvironmentOverrides tests env var precedence over file values.
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OVERHEAD_PORT", "9090")
	t.Setenv("OVERHEAD_HOME_LAT", "48.8566")
	t.Setenv("OVERHEAD_HOME_LON", "2.3522")
	t.Setenv("OVERHEAD_DB_PASSWORD", "hunter2")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090 from env, got %s", cfg.Server.Port)
	}
	if cfg.Observer.Latitude != 48.8566 {
		t.Errorf("Expected latitude from env, got %f", cfg.Observer.Latitude)
	}
	if cfg.Observer.Longitude != 2.3522 {
		t.Errorf("Expected longitude from env, got %f", cfg.Observer.Longitude)
	}
	if cfg.Logbook.Password != "hunter2" {
		t.Errorf("Expected DB password from env, got %s", cfg.Logbook.Password)
	}
}

// TestSaveAndReload tests round-tripping a config through Save/Load.
func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Observer.Latitude = 51.5
	cfg.Observer.Longitude = -0.12
	cfg.Tracking.DashboardListSize = 15

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Expected no error saving, got: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error loading, got: %v", err)
	}
	if loaded.Observer.Latitude != 51.5 {
		t.Errorf("Expected latitude 51.5, got %f", loaded.Observer.Latitude)
	}
	if loaded.Tracking.DashboardListSize != 15 {
		t.Errorf("Expected list size 15, got %d", loaded.Tracking.DashboardListSize)
	}
}

// TestValidate tests configuration validation.
func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Observer.Latitude = 52.52
		cfg.Observer.Longitude = 13.405
		return cfg
	}

	t.Run("Valid config", func(t *testing.T) {
		if errs := valid().Validate(); len(errs) != 0 {
			t.Errorf("Expected no errors, got: %v", errs)
		}
	})

	t.Run("Unset observer", func(t *testing.T) {
		cfg := DefaultConfig()
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Error("Expected error for unset observer coordinates")
		}
	})

	t.Run("Out of range latitude", func(t *testing.T) {
		cfg := valid()
		cfg.Observer.Latitude = 91.0
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Error("Expected error for latitude > 90")
		}
	})

	t.Run("Negative search radius", func(t *testing.T) {
		cfg := valid()
		cfg.Tracking.SearchRadiusKm = -1
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Error("Expected error for negative radius")
		}
	})

	t.Run("Bad elevation angle", func(t *testing.T) {
		cfg := valid()
		cfg.Tracking.MinElevationDeg = 120
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Error("Expected error for elevation > 90")
		}
	})

	t.Run("TLS without cert files", func(t *testing.T) {
		cfg := valid()
		cfg.Server.TLSEnabled = true
		cfg.Server.TLSCertFile = "/nonexistent/cert.pem"
		cfg.Server.TLSKeyFile = "/nonexistent/key.pem"
		errs := cfg.Validate()
		if len(errs) < 2 {
			t.Errorf("Expected cert and key errors, got: %v", errs)
		}
	})

	t.Run("Auth without secret", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.RequireAuth = true
		cfg.Auth.JWTSecret = ""
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Error("Expected error for require_auth without jwt_secret")
		}
	})

	t.Run("Collects multiple errors", func(t *testing.T) {
		cfg := valid()
		cfg.Tracking.SearchRadiusKm = 0
		cfg.Limits.MessageRateLimit = 0
		cfg.Limits.MaxConnectionsPerIP = 0
		if errs := cfg.Validate(); len(errs) != 3 {
			t.Errorf("Expected 3 errors, got %d: %v", len(errs), errs)
		}
	})
}
