package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Observer  ObserverConfig  `json:"observer"`
	Tracking  TrackingConfig  `json:"tracking"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Limits    LimitsConfig    `json:"limits"`
	Logbook   LogbookConfig   `json:"logbook"`
	InfoCache InfoCacheConfig `json:"info_cache"`
	Auth      AuthConfig      `json:"auth"`
}

// ServerConfig contains HTTP/WebSocket server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// TLSEnabled determines if HTTPS/WSS should be used
	TLSEnabled bool `json:"tls_enabled"`

	// TLSCertFile is the path to the TLS certificate
	TLSCertFile string `json:"tls_cert_file"`

	// TLSKeyFile is the path to the TLS private key
	TLSKeyFile string `json:"tls_key_file"`

	// CORSOrigins lists allowed origins for browser clients
	CORSOrigins []string `json:"cors_origins"`

	// StaticDir optionally serves a static frontend when set
	StaticDir string `json:"static_dir"`
}

// ObserverConfig contains the observer's fixed geographic location.
// Immutable after load; shared read-only by all components.
type ObserverConfig struct {
	// Name is a friendly identifier for this observer location
	Name string `json:"name"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`
}

// TrackingConfig contains the filtering and ranking parameters.
type TrackingConfig struct {
	// SearchRadiusKm is the maximum distance at which aircraft are
	// considered at all
	SearchRadiusKm float64 `json:"search_radius_km"`

	// MinElevationDeg is the elevation angle above which an aircraft
	// counts as visible
	MinElevationDeg float64 `json:"min_elevation_deg"`

	// MinAltitudeM drops aircraft reporting below this altitude;
	// filters out ground clutter and taxiing traffic the on-ground
	// flag misses
	MinAltitudeM float64 `json:"min_altitude_m"`

	// FilterDeparting drops aircraft that are moving away from the
	// observer when true
	FilterDeparting bool `json:"filter_departing"`

	// ApproachWindowDeg is the angular tolerance for the closing-
	// direction test
	ApproachWindowDeg float64 `json:"approach_window_deg"`

	// PollIntervalSeconds is how often the upstream source is polled
	// while subscribers are connected
	PollIntervalSeconds int `json:"poll_interval_seconds"`

	// IdleStopSeconds debounces the transition back to idle after the
	// last subscriber disconnects
	IdleStopSeconds int `json:"idle_stop_seconds"`

	// DashboardListSize is the top-N size of the aircraft_list message
	DashboardListSize int `json:"dashboard_list_size"`

	// SightingTTLMinutes is the "still overhead" window: repeat
	// observations of the same airframe within it do not produce new
	// sightings
	SightingTTLMinutes int `json:"sighting_ttl_minutes"`
}

// UpstreamConfig contains the flight-position data source settings.
type UpstreamConfig struct {
	// BaseURL is the API base URL
	BaseURL string `json:"base_url"`

	// Username/Password enable authenticated access when both set
	Username string `json:"username"`
	Password string `json:"password"`

	// RequestsPerMinute throttles outbound API calls
	RequestsPerMinute int `json:"requests_per_minute"`
}

// LimitsConfig contains the abuse-protection thresholds for the
// WebSocket transport.
type LimitsConfig struct {
	// MaxConnectionsPerIP caps concurrent connections per source address
	MaxConnectionsPerIP int `json:"max_connections_per_ip"`

	// ConnectionRateLimit / ConnectionRateWindowSeconds cap new
	// connection attempts per source address
	ConnectionRateLimit         int `json:"connection_rate_limit"`
	ConnectionRateWindowSeconds int `json:"connection_rate_window_seconds"`

	// MessageRateLimit / MessageRateWindowSeconds cap inbound messages
	// per connection
	MessageRateLimit         int `json:"message_rate_limit"`
	MessageRateWindowSeconds int `json:"message_rate_window_seconds"`

	// ViolationCooldownSeconds: a second message-rate violation inside
	// this window forces a disconnect instead of another warning
	ViolationCooldownSeconds int `json:"violation_cooldown_seconds"`
}

// LogbookConfig contains the PostgreSQL sighting store settings.
type LogbookConfig struct {
	// Enabled turns sighting persistence on/off
	Enabled bool `json:"enabled"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should come from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// InfoCacheConfig contains the aircraft enrichment cache settings.
type InfoCacheConfig struct {
	// Path is the SQLite database file for the persistent cache
	Path string `json:"path"`

	// ExpiryDays is how long cached aircraft metadata stays fresh
	ExpiryDays int `json:"expiry_days"`

	// LookupBaseURL is the metadata lookup endpoint
	LookupBaseURL string `json:"lookup_base_url"`

	// PhotoBaseURL is the aircraft photo API endpoint
	PhotoBaseURL string `json:"photo_base_url"`
}

// AuthConfig contains subscriber authentication settings.
type AuthConfig struct {
	// RequireAuth rejects unauthenticated hello messages when true
	RequireAuth bool `json:"require_auth"`

	// JWTSecret signs session tokens (should come from environment)
	JWTSecret string `json:"jwt_secret"`

	// TokenDurationHours is session token validity
	TokenDurationHours int `json:"token_duration_hours"`
}

// PollInterval returns the poll interval as a duration.
func (t TrackingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

// IdleStopDelay returns the idle-stop debounce as a duration.
func (t TrackingConfig) IdleStopDelay() time.Duration {
	return time.Duration(t.IdleStopSeconds) * time.Second
}

// SightingTTL returns the still-overhead window as a duration.
func (t TrackingConfig) SightingTTL() time.Duration {
	return time.Duration(t.SightingTTLMinutes) * time.Minute
}

// ConnString builds the lib/pq connection string.
func (l LogbookConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		l.Host, l.Port, l.Username, l.Password, l.Database, l.SSLMode,
	)
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
// Environment variables override file values either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			TLSEnabled:  false,
			CORSOrigins: []string{"http://localhost:8080"},
		},
		Observer: ObserverConfig{
			Name:      "Home",
			Latitude:  0.0,
			Longitude: 0.0,
		},
		Tracking: TrackingConfig{
			SearchRadiusKm:      50.0,
			MinElevationDeg:     20.0,
			MinAltitudeM:        500.0,
			FilterDeparting:     true,
			ApproachWindowDeg:   90.0,
			PollIntervalSeconds: 5,
			IdleStopSeconds:     3,
			DashboardListSize:   10,
			SightingTTLMinutes:  5,
		},
		Upstream: UpstreamConfig{
			BaseURL:           "https://opensky-network.org/api",
			RequestsPerMinute: 60,
		},
		Limits: LimitsConfig{
			MaxConnectionsPerIP:         3,
			ConnectionRateLimit:         5,
			ConnectionRateWindowSeconds: 60,
			MessageRateLimit:            60,
			MessageRateWindowSeconds:    60,
			ViolationCooldownSeconds:    10,
		},
		Logbook: LogbookConfig{
			Enabled:      true,
			Host:         "localhost",
			Port:         5432,
			Database:     "overhead",
			Username:     "overhead",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		InfoCache: InfoCacheConfig{
			Path:          "overhead-cache.db",
			ExpiryDays:    30,
			LookupBaseURL: "https://hexdb.io/api/v1",
			PhotoBaseURL:  "https://api.planespotters.net/pub",
		},
		Auth: AuthConfig{
			RequireAuth:        false,
			TokenDurationHours: 24,
		},
	}
}

// Validate checks the configuration for problems and returns them all.
func (c *Config) Validate() []error {
	var errs []error

	if c.Observer.Latitude == 0 && c.Observer.Longitude == 0 {
		errs = append(errs, fmt.Errorf("observer latitude/longitude must be set"))
	}
	if c.Observer.Latitude < -90 || c.Observer.Latitude > 90 {
		errs = append(errs, fmt.Errorf("observer latitude must be between -90 and 90"))
	}
	if c.Observer.Longitude < -180 || c.Observer.Longitude > 180 {
		errs = append(errs, fmt.Errorf("observer longitude must be between -180 and 180"))
	}
	if c.Tracking.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("search_radius_km must be positive"))
	}
	if c.Tracking.MinElevationDeg < 0 || c.Tracking.MinElevationDeg > 90 {
		errs = append(errs, fmt.Errorf("min_elevation_deg must be between 0 and 90"))
	}
	if c.Tracking.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_seconds must be positive"))
	}
	if c.Limits.MessageRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("message_rate_limit must be positive"))
	}
	if c.Limits.MaxConnectionsPerIP <= 0 {
		errs = append(errs, fmt.Errorf("max_connections_per_ip must be positive"))
	}
	if c.Server.TLSEnabled {
		if _, err := os.Stat(c.Server.TLSCertFile); err != nil {
			errs = append(errs, fmt.Errorf("tls_cert_file not found: %s", c.Server.TLSCertFile))
		}
		if _, err := os.Stat(c.Server.TLSKeyFile); err != nil {
			errs = append(errs, fmt.Errorf("tls_key_file not found: %s", c.Server.TLSKeyFile))
		}
	}
	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("jwt_secret must be set when require_auth is enabled"))
	}

	return errs
}

// applyEnvironmentOverrides applies environment variable overrides.
// This keeps secrets and per-deployment coordinates out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("OVERHEAD_PORT"); port != "" {
		c.Server.Port = port
	}
	if lat := os.Getenv("OVERHEAD_HOME_LAT"); lat != "" {
		if v, err := strconv.ParseFloat(lat, 64); err == nil {
			c.Observer.Latitude = v
		}
	}
	if lon := os.Getenv("OVERHEAD_HOME_LON"); lon != "" {
		if v, err := strconv.ParseFloat(lon, 64); err == nil {
			c.Observer.Longitude = v
		}
	}
	if radius := os.Getenv("OVERHEAD_SEARCH_RADIUS_KM"); radius != "" {
		if v, err := strconv.ParseFloat(radius, 64); err == nil {
			c.Tracking.SearchRadiusKm = v
		}
	}
	if user := os.Getenv("OVERHEAD_UPSTREAM_USERNAME"); user != "" {
		c.Upstream.Username = user
	}
	if pass := os.Getenv("OVERHEAD_UPSTREAM_PASSWORD"); pass != "" {
		c.Upstream.Password = pass
	}
	if pass := os.Getenv("OVERHEAD_DB_PASSWORD"); pass != "" {
		c.Logbook.Password = pass
	}
	if secret := os.Getenv("OVERHEAD_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
