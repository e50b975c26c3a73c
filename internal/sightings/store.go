package sightings

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Sighting is one logbook row: an aircraft type and how often it has
// been spotted overhead.
type Sighting struct {
	TypeKey        string
	TypeName       string
	ImageURL       string
	Count          int
	FirstSpottedAt time.Time
	LastSpottedAt  time.Time
}

// Store persists the logbook. Upsert increments the count for a type
// key; Query returns rows last spotted at or after since (inclusive).
type Store interface {
	Upsert(ctx context.Context, s Sighting) error
	Query(ctx context.Context, since time.Time) ([]Sighting, error)
	Close() error
}

// PGStore is the PostgreSQL logbook store.
type PGStore struct {
	db *sql.DB
}

// NewPGStore connects to PostgreSQL and ensures the schema exists.
func NewPGStore(connStr string, maxOpen, maxIdle int) (*PGStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PGStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sightings (
			type_key         TEXT PRIMARY KEY,
			type_name        TEXT NOT NULL,
			image_url        TEXT NOT NULL DEFAULT '',
			count            INTEGER NOT NULL DEFAULT 0,
			first_spotted_at TIMESTAMPTZ NOT NULL,
			last_spotted_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sightings_last_spotted
			ON sightings (last_spotted_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Upsert inserts or bumps a sighting row. An empty incoming image URL
// never overwrites a stored one.
func (s *PGStore) Upsert(ctx context.Context, sighting Sighting) error {
	query := `
		INSERT INTO sightings (type_key, type_name, image_url, count, first_spotted_at, last_spotted_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		ON CONFLICT (type_key) DO UPDATE SET
			count            = sightings.count + 1,
			type_name        = EXCLUDED.type_name,
			image_url        = CASE WHEN EXCLUDED.image_url <> ''
			                        THEN EXCLUDED.image_url
			                        ELSE sightings.image_url END,
			last_spotted_at  = EXCLUDED.last_spotted_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sighting.TypeKey, sighting.TypeName, sighting.ImageURL, sighting.LastSpottedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert sighting: %w", err)
	}
	return nil
}

// Query returns sightings with last_spotted_at >= since, most recent
// first. The zero time means everything.
func (s *PGStore) Query(ctx context.Context, since time.Time) ([]Sighting, error) {
	query := `
		SELECT type_key, type_name, image_url, count, first_spotted_at, last_spotted_at
		FROM sightings
		WHERE last_spotted_at >= $1
		ORDER BY last_spotted_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	var result []Sighting
	for rows.Next() {
		var row Sighting
		if err := rows.Scan(&row.TypeKey, &row.TypeName, &row.ImageURL,
			&row.Count, &row.FirstSpottedAt, &row.LastSpottedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (s *PGStore) Close() error {
	return s.db.Close()
}

// MemStore is the in-memory logbook, used standalone when persistence
// is disabled and as the fallback when the database store fails.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]Sighting
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]Sighting)}
}

func (s *MemStore) Upsert(ctx context.Context, sighting Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[sighting.TypeKey]
	if !ok {
		sighting.Count = 1
		sighting.FirstSpottedAt = sighting.LastSpottedAt
		s.rows[sighting.TypeKey] = sighting
		return nil
	}

	existing.Count++
	existing.TypeName = sighting.TypeName
	if sighting.ImageURL != "" {
		existing.ImageURL = sighting.ImageURL
	}
	existing.LastSpottedAt = sighting.LastSpottedAt
	s.rows[sighting.TypeKey] = existing
	return nil
}

func (s *MemStore) Query(ctx context.Context, since time.Time) ([]Sighting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Sighting
	for _, row := range s.rows {
		if !row.LastSpottedAt.Before(since) {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastSpottedAt.Equal(result[j].LastSpottedAt) {
			return result[i].LastSpottedAt.After(result[j].LastSpottedAt)
		}
		return result[i].TypeKey < result[j].TypeKey
	})
	return result, nil
}

func (s *MemStore) Close() error { return nil }
