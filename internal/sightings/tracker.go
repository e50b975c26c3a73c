// Package sightings maintains the spotting logbook: every aircraft type
// seen overhead, counted once per pass.
package sightings

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/skyspotter/overhead/internal/protocol"
)

// LookupFunc resolves an aircraft id to its type name and image URL.
// Implemented by the aircraft info cache.
type LookupFunc func(ctx context.Context, id string) (typeName, imageURL string, err error)

// Seen is the minimal view of one observed aircraft.
type Seen struct {
	ID       string
	Callsign string
}

// recordJob is one pending logbook write.
type recordJob struct {
	seen Seen
	at   time.Time
}

// Tracker converts observations into logbook entries. An aircraft that
// stays overhead produces one sighting per pass, not one per poll: the
// TTL window slides forward while the aircraft keeps appearing.
//
// Persistence runs on the tracker's own goroutine so a slow or dead
// database never blocks the poll loop. Writes that fail land in an
// in-memory fallback so the session's logbook survives a database
// outage.
type Tracker struct {
	store    Store
	fallback *MemStore
	lookup   LookupFunc
	ttl      time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time

	jobs chan recordJob
	done chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

// NewTracker creates a tracker over the given store. lookup may be nil,
// in which case entries fall back to the callsign.
func NewTracker(store Store, lookup LookupFunc, ttl time.Duration) *Tracker {
	return &Tracker{
		store:    store,
		fallback: NewMemStore(),
		lookup:   lookup,
		ttl:      ttl,
		lastSeen: make(map[string]time.Time),
		jobs:     make(chan recordJob, 64),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the persistence worker.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.worker(ctx)
}

// Close drains pending writes and shuts the worker down.
func (t *Tracker) Close() {
	close(t.done)
	t.wg.Wait()
}

// Observe records one poll's worth of visible aircraft. Called from
// the snapshot publisher; never blocks.
func (t *Tracker) Observe(at time.Time, aircraft []Seen) {
	t.mu.Lock()
	var fresh []Seen
	for _, a := range aircraft {
		last, ok := t.lastSeen[a.ID]
		t.lastSeen[a.ID] = at
		if ok && at.Sub(last) < t.ttl {
			// Still overhead from the previous poll.
			continue
		}
		fresh = append(fresh, a)
	}
	t.mu.Unlock()

	for _, a := range fresh {
		select {
		case t.jobs <- recordJob{seen: a, at: at}:
		default:
			log.Printf("Sighting queue full, dropping %s", a.ID)
		}
	}
}

// PruneSeen drops still-overhead state older than the TTL. Called
// periodically so the map does not grow with every airframe ever seen.
func (t *Tracker) PruneSeen() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	removed := 0
	for id, last := range t.lastSeen {
		if last.Before(cutoff) {
			delete(t.lastSeen, id)
			removed++
		}
	}
	return removed
}

// Query returns logbook entries last spotted at or after since. When
// the primary store fails, the in-memory fallback answers instead.
func (t *Tracker) Query(ctx context.Context, since time.Time) ([]Sighting, error) {
	rows, err := t.store.Query(ctx, since)
	if err != nil {
		log.Printf("Logbook query failed, serving fallback: %v", err)
		return t.fallback.Query(ctx, since)
	}
	return rows, nil
}

// WireEntries converts sightings to their wire form.
func WireEntries(rows []Sighting) []protocol.LogbookEntry {
	entries := make([]protocol.LogbookEntry, len(rows))
	for i, row := range rows {
		entries[i] = protocol.LogbookEntry{
			TypeKey:        row.TypeKey,
			TypeName:       row.TypeName,
			ImageURL:       row.ImageURL,
			Count:          row.Count,
			FirstSpottedAt: row.FirstSpottedAt.Unix(),
			LastSpottedAt:  row.LastSpottedAt.Unix(),
		}
	}
	return entries
}

// worker persists sightings until the context ends or Close is called,
// then drains what is already queued.
func (t *Tracker) worker(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			for {
				select {
				case job := <-t.jobs:
					t.record(ctx, job)
				default:
					return
				}
			}
		case job := <-t.jobs:
			t.record(ctx, job)
		}
	}
}

// record resolves the aircraft type and upserts the logbook row.
func (t *Tracker) record(ctx context.Context, job recordJob) {
	typeName, imageURL := "Unknown aircraft", ""
	if t.lookup != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		name, img, err := t.lookup(lookupCtx, job.seen.ID)
		cancel()
		if err == nil && name != "" {
			typeName, imageURL = name, img
		} else if job.seen.Callsign != "" {
			typeName = job.seen.Callsign
		}
	} else if job.seen.Callsign != "" {
		typeName = job.seen.Callsign
	}

	sighting := Sighting{
		TypeKey:        NormalizeTypeKey(typeName),
		TypeName:       typeName,
		ImageURL:       imageURL,
		FirstSpottedAt: job.at,
		LastSpottedAt:  job.at,
	}

	if err := t.store.Upsert(ctx, sighting); err != nil {
		log.Printf("Sighting persist failed, keeping in memory: %v", err)
		if err := t.fallback.Upsert(ctx, sighting); err != nil {
			log.Printf("Fallback upsert failed: %v", err)
		}
	}
}

// NormalizeTypeKey folds a display name into a stable logbook key:
// "Airbus A320" and "airbus a320" count as the same type.
func NormalizeTypeKey(typeName string) string {
	key := strings.ToLower(strings.TrimSpace(typeName))
	key = strings.Join(strings.Fields(key), "_")
	if key == "" {
		return "unknown"
	}
	return key
}
