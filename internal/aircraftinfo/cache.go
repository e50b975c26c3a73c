// Package aircraftinfo enriches tracked aircraft with type and photo
// metadata from public registries, backed by a persistent SQLite cache
// so repeat lookups never touch the network.
package aircraftinfo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/skyspotter/overhead/pkg/adsb"
)

// ErrNotFound means the registry has no record for the aircraft.
var ErrNotFound = errors.New("aircraft not found")

// Info is the enrichment result for one airframe.
type Info struct {
	Registration string
	TypeRaw      string
	TypeName     string
	Operator     string
	ImageURL     string
}

// Config contains the lookup endpoints and cache settings.
type Config struct {
	// Path is the SQLite cache file
	Path string

	// LookupBaseURL serves aircraft details (hexdb-style /aircraft/{id})
	LookupBaseURL string

	// PhotoBaseURL serves photos (planespotters-style /photos/hex/{id});
	// empty disables photo lookups
	PhotoBaseURL string

	// Expiry is how long a cached record stays fresh
	Expiry time.Duration

	// Timeout bounds each outbound request
	Timeout time.Duration
}

// Cache is the lookup client plus its persistent store.
type Cache struct {
	db         *sql.DB
	cfg        Config
	httpClient *http.Client

	// retry paces transient registry failures
	retry adsb.RetryConfig

	// now is swappable for expiry tests
	now func() time.Time
}

// New opens (or creates) the cache database and returns a ready cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = 30 * 24 * time.Hour
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS aircraft_info (
			icao         TEXT PRIMARY KEY,
			registration TEXT NOT NULL DEFAULT '',
			type_raw     TEXT NOT NULL DEFAULT '',
			type_name    TEXT NOT NULL DEFAULT '',
			operator     TEXT NOT NULL DEFAULT '',
			image_url    TEXT NOT NULL DEFAULT '',
			fetched_at   INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &Cache{
		db:         db,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry: adsb.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
		now: time.Now,
	}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns enrichment info for an ICAO hex id, serving from the
// cache when fresh and hitting the registry otherwise. A registry miss
// returns ErrNotFound and is not cached, so a later registration can
// still be found.
func (c *Cache) Lookup(ctx context.Context, id string) (Info, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return Info{}, fmt.Errorf("empty aircraft id")
	}

	if info, ok := c.cached(ctx, id); ok {
		return info, nil
	}

	// Transient registry failures are retried with backoff; a definite
	// not-found answer is permanent and returned immediately.
	var info Info
	var notFound error
	err := adsb.RetryWithBackoff(ctx, c.retry, func() error {
		fetched, err := c.fetchDetails(ctx, id)
		if errors.Is(err, ErrNotFound) {
			notFound = err
			return nil
		}
		if err != nil {
			return err
		}
		info = fetched
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	if notFound != nil {
		return Info{}, notFound
	}

	// Photos are best-effort; a missing photo is not an error.
	if c.cfg.PhotoBaseURL != "" {
		info.ImageURL = c.fetchPhoto(ctx, id)
	}

	if err := c.storeInfo(ctx, id, info); err != nil {
		return info, fmt.Errorf("cache write failed: %w", err)
	}
	return info, nil
}

// cached returns a fresh cache row if one exists.
func (c *Cache) cached(ctx context.Context, id string) (Info, bool) {
	var info Info
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx, `
		SELECT registration, type_raw, type_name, operator, image_url, fetched_at
		FROM aircraft_info WHERE icao = ?
	`, id).Scan(&info.Registration, &info.TypeRaw, &info.TypeName,
		&info.Operator, &info.ImageURL, &fetchedAt)
	if err != nil {
		return Info{}, false
	}
	if c.now().Sub(time.Unix(fetchedAt, 0)) > c.cfg.Expiry {
		return Info{}, false
	}
	return info, true
}

func (c *Cache) storeInfo(ctx context.Context, id string, info Info) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO aircraft_info (icao, registration, type_raw, type_name, operator, image_url, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (icao) DO UPDATE SET
			registration = excluded.registration,
			type_raw     = excluded.type_raw,
			type_name    = excluded.type_name,
			operator     = excluded.operator,
			image_url    = excluded.image_url,
			fetched_at   = excluded.fetched_at
	`, id, info.Registration, info.TypeRaw, info.TypeName, info.Operator,
		info.ImageURL, c.now().Unix())
	return err
}

// hexdbAircraft is the registry response shape we consume.
type hexdbAircraft struct {
	Registration     string `json:"Registration"`
	Manufacturer     string `json:"Manufacturer"`
	Type             string `json:"Type"`
	RegisteredOwners string `json:"RegisteredOwners"`
}

func (c *Cache) fetchDetails(ctx context.Context, id string) (Info, error) {
	url := fmt.Sprintf("%s/aircraft/%s", c.cfg.LookupBaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Info{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("failed to fetch aircraft details: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Info{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var raw hexdbAircraft
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Info{}, fmt.Errorf("failed to parse registry response: %w", err)
	}

	return Info{
		Registration: raw.Registration,
		TypeRaw:      raw.Type,
		TypeName:     SimplifyType(raw.Manufacturer, raw.Type),
		Operator:     raw.RegisteredOwners,
	}, nil
}

// planespottersPhotos is the photo API response shape we consume.
type planespottersPhotos struct {
	Photos []struct {
		ThumbnailLarge struct {
			Src string `json:"src"`
		} `json:"thumbnail_large"`
	} `json:"photos"`
}

func (c *Cache) fetchPhoto(ctx context.Context, id string) string {
	url := fmt.Sprintf("%s/photos/hex/%s", c.cfg.PhotoBaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var raw planespottersPhotos
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ""
	}
	if len(raw.Photos) == 0 {
		return ""
	}
	return raw.Photos[0].ThumbnailLarge.Src
}
